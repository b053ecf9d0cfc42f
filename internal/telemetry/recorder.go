// Package telemetry records local query statistics: mode frequency,
// latency buckets, and zero-result queries. All data stays in the data
// directory; nothing is reported anywhere.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// zeroResultCap bounds the zero-result ring. Old entries are pruned on
// insert; the ring exists to show which questions the corpus cannot
// answer, not to keep history.
const zeroResultCap = 100

// LatencyBucket is a latency histogram bucket label.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed retrieval, recorded after the fact.
type QueryEvent struct {
	RootRef     string
	Query       string
	Mode        string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// Summary aggregates recorded events for display.
type Summary struct {
	TotalQueries   int                   `json:"total_queries"`
	ByMode         map[string]int        `json:"by_mode"`
	LatencyBuckets map[LatencyBucket]int `json:"latency_buckets"`
	ZeroResults    []ZeroResultQuery     `json:"zero_results,omitempty"`
}

// ZeroResultQuery is a query that matched nothing in its version.
type ZeroResultQuery struct {
	RootRef   string    `json:"root_ref"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder persists query statistics in a dedicated SQLite file so the
// stats writes never contend with chunk store reads.
type Recorder struct {
	db *sql.DB
}

// Open opens (or creates) the stats database at path. An empty path
// opens an in-memory recorder for testing.
func Open(path string) (*Recorder, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create stats directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open stats store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS query_mode_stats (
		date TEXT NOT NULL,
		mode TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode)
	);
	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root_ref TEXT NOT NULL,
		query TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create stats schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Record persists one query event. Recording is best-effort at the call
// site: callers log failures and move on, a stats write never fails a
// query.
func (r *Recorder) Record(ctx context.Context, event QueryEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	date := event.Timestamp.UTC().Format("2006-01-02")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_mode_stats (date, mode, count) VALUES (?, ?, 1)
		ON CONFLICT(date, mode) DO UPDATE SET count = count + 1`,
		date, event.Mode); err != nil {
		return fmt.Errorf("record mode stat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1`,
		date, string(LatencyToBucket(event.Latency))); err != nil {
		return fmt.Errorf("record latency stat: %w", err)
	}

	if event.ResultCount == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO zero_result_queries (root_ref, query, timestamp) VALUES (?, ?, ?)`,
			event.RootRef, event.Query, event.Timestamp.UTC()); err != nil {
			return fmt.Errorf("record zero-result query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries WHERE id NOT IN (
				SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			zeroResultCap); err != nil {
			return fmt.Errorf("prune zero-result queries: %w", err)
		}
	}

	return tx.Commit()
}

// Summarize aggregates all recorded events.
func (r *Recorder) Summarize(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		ByMode:         make(map[string]int),
		LatencyBuckets: make(map[LatencyBucket]int),
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT mode, SUM(count) FROM query_mode_stats GROUP BY mode`)
	if err != nil {
		return nil, fmt.Errorf("read mode stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mode string
		var count int
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("scan mode stat: %w", err)
		}
		summary.ByMode[mode] = count
		summary.TotalQueries += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read mode stats: %w", err)
	}

	buckets, err := r.db.QueryContext(ctx,
		`SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`)
	if err != nil {
		return nil, fmt.Errorf("read latency stats: %w", err)
	}
	defer buckets.Close()
	for buckets.Next() {
		var bucket string
		var count int
		if err := buckets.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan latency stat: %w", err)
		}
		summary.LatencyBuckets[LatencyBucket(bucket)] = count
	}
	if err := buckets.Err(); err != nil {
		return nil, fmt.Errorf("read latency stats: %w", err)
	}

	zeros, err := r.db.QueryContext(ctx, `
		SELECT root_ref, query, timestamp FROM zero_result_queries
		ORDER BY id DESC LIMIT ?`, zeroResultCap)
	if err != nil {
		return nil, fmt.Errorf("read zero-result queries: %w", err)
	}
	defer zeros.Close()
	for zeros.Next() {
		var z ZeroResultQuery
		if err := zeros.Scan(&z.RootRef, &z.Query, &z.Timestamp); err != nil {
			return nil, fmt.Errorf("scan zero-result query: %w", err)
		}
		summary.ZeroResults = append(summary.ZeroResults, z)
	}
	if err := zeros.Err(); err != nil {
		return nil, fmt.Errorf("read zero-result queries: %w", err)
	}

	return summary, nil
}

// Close closes the stats database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
