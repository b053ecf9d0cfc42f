package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "qualified cpp path keeps whole path and segments",
			input: "TTree::Draw",
			want:  []string{"ttree::draw", "tree", "draw"},
		},
		{
			name:  "camelCase",
			input: "getUserName",
			want:  []string{"get", "user", "name"},
		},
		{
			name:  "snake_case",
			input: "branch_entry_count",
			want:  []string{"branch", "entry", "count"},
		},
		{
			name:  "acronym stays together",
			input: "parseHTTPRequest",
			want:  []string{"parse", "http", "request"},
		},
		{
			name:  "mixed alnum identifier",
			input: "TH1F",
			want:  []string{"th1f"},
		},
		{
			name:  "sentence with punctuation",
			input: "How does TTree::GetEntries work?",
			want:  []string{"how", "does", "ttree::getentries", "tree", "get", "entries", "work"},
		},
		{
			name:  "short tokens dropped",
			input: "a b xy",
			want:  []string{"xy"},
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeCode(tt.input))
		})
	}
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"Get", "Entries"}, SplitCamelCase("GetEntries"))
	assert.Equal(t, []string{"TH1F"}, SplitCamelCase("TH1F"))
	assert.Equal(t, []string{"parse", "HTTP", "Request"}, SplitCamelCase("parseHTTPRequest"))
	assert.Equal(t, []string{}, SplitCamelCase(""))
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"const", "void"})
	got := FilterStopWords([]string{"const", "ttree", "void", "draw"}, stop)
	assert.Equal(t, []string{"ttree", "draw"}, got)
}

func TestPrimaryToken(t *testing.T) {
	assert.Equal(t, "TTree::Draw", PrimaryToken("TTree::Draw histogram options"))
	assert.Equal(t, "RooFit", PrimaryToken("  RooFit "))
	assert.Equal(t, "", PrimaryToken("   "))
}

func TestFTSTerm(t *testing.T) {
	assert.Equal(t, "ttreedraw", ftsTerm("TTree::Draw"))
	assert.Equal(t, "draw", ftsTerm("draw"))
}
