package telemetry

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{80 * time.Millisecond, BucketP100},
		{300 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.latency), "latency %v", tt.latency)
	}
}

func TestRecord_AggregatesByMode(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(ctx, QueryEvent{
			RootRef: "v6-32-00", Query: "TTree Draw", Mode: "lexical",
			ResultCount: 5, Latency: 8 * time.Millisecond,
		}))
	}
	require.NoError(t, r.Record(ctx, QueryEvent{
		RootRef: "v6-32-00", Query: "TH1 Fill", Mode: "hybrid",
		ResultCount: 2, Latency: 60 * time.Millisecond,
	}))

	summary, err := r.Summarize(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.TotalQueries)
	assert.Equal(t, 3, summary.ByMode["lexical"])
	assert.Equal(t, 1, summary.ByMode["hybrid"])
	assert.Equal(t, 3, summary.LatencyBuckets[BucketP10])
	assert.Equal(t, 1, summary.LatencyBuckets[BucketP100])
	assert.Empty(t, summary.ZeroResults, "Queries with results are not zero-result entries")
}

func TestRecord_ZeroResultRing(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, QueryEvent{
		RootRef: "v6-32-00", Query: "TotallyFakeClass", Mode: "lexical",
		ResultCount: 0, Latency: 3 * time.Millisecond,
	}))

	summary, err := r.Summarize(ctx)
	require.NoError(t, err)

	require.Len(t, summary.ZeroResults, 1)
	assert.Equal(t, "TotallyFakeClass", summary.ZeroResults[0].Query)
	assert.Equal(t, "v6-32-00", summary.ZeroResults[0].RootRef)
}

func TestRecord_ZeroResultRingIsPruned(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < zeroResultCap+20; i++ {
		require.NoError(t, r.Record(ctx, QueryEvent{
			RootRef: "v6-32-00", Query: fmt.Sprintf("missing-%d", i), Mode: "lexical",
			ResultCount: 0, Latency: time.Millisecond,
		}))
	}

	summary, err := r.Summarize(ctx)
	require.NoError(t, err)

	require.Len(t, summary.ZeroResults, zeroResultCap)
	// Newest first; the oldest 20 were pruned.
	assert.Equal(t, fmt.Sprintf("missing-%d", zeroResultCap+19), summary.ZeroResults[0].Query)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	ctx := context.Background()

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, QueryEvent{
		RootRef: "v6-32-00", Query: "TTree", Mode: "lexical",
		ResultCount: 1, Latency: time.Millisecond,
	}))
	require.NoError(t, r.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	summary, err := reopened.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalQueries)
}

func TestSummarize_Empty(t *testing.T) {
	r := newTestRecorder(t)

	summary, err := r.Summarize(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.TotalQueries)
	assert.Empty(t, summary.ByMode)
	assert.Empty(t, summary.ZeroResults)
}
