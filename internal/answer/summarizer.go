package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/citegrep/citegrep/internal/errors"
)

const (
	// DefaultSummarizerModel is a small local generation model.
	DefaultSummarizerModel = "qwen3:0.6b"

	// DefaultSummarizerTimeout bounds one generate call.
	DefaultSummarizerTimeout = 120 * time.Second

	// maxEvidenceChars caps the evidence text included in the prompt.
	maxEvidenceChars = 2000
)

// SummarizerConfig configures the Ollama-backed summarizer.
type SummarizerConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// DefaultSummarizerConfig returns the default summarizer configuration.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		Host:    "http://localhost:11434",
		Model:   DefaultSummarizerModel,
		Timeout: DefaultSummarizerTimeout,
	}
}

// OllamaSummarizer phrases an answer from the selected evidence using a
// local Ollama generation model. The prompt contains only the question
// and the verbatim evidence; the model is asked to cite and never to
// speculate beyond the excerpts.
type OllamaSummarizer struct {
	config SummarizerConfig
	client *http.Client
}

var _ Summarizer = (*OllamaSummarizer)(nil)

// NewOllamaSummarizer creates a summarizer against an Ollama host.
func NewOllamaSummarizer(cfg SummarizerConfig) *OllamaSummarizer {
	if cfg.Host == "" {
		cfg.Host = DefaultSummarizerConfig().Host
	}
	if cfg.Model == "" {
		cfg.Model = DefaultSummarizerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSummarizerTimeout
	}
	return &OllamaSummarizer{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize builds the prompt and runs one non-streaming generate call.
func (s *OllamaSummarizer) Summarize(ctx context.Context, question string, evidence []*Evidence) (string, error) {
	prompt := s.buildPrompt(question, evidence)

	body, err := json.Marshal(generateRequest{
		Model:  s.config.Model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "marshal generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.KindProviderUnavailable, "generate request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Newf(errors.KindProviderUnavailable,
			"generate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", errors.Wrap(errors.KindProviderUnavailable, "decode generate response", err)
	}

	return cleanAnswer(gen.Response), nil
}

// Available reports whether the Ollama host responds.
func (s *OllamaSummarizer) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// buildPrompt assembles the question plus numbered evidence excerpts.
func (s *OllamaSummarizer) buildPrompt(question string, evidence []*Evidence) string {
	var b strings.Builder
	b.WriteString("Answer the question using ONLY the numbered source excerpts below.\n")
	b.WriteString("Cite excerpts by number, e.g. [1]. If the excerpts do not answer the\n")
	b.WriteString("question, say so. Do not use any knowledge beyond the excerpts.\n\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\n")

	for i, e := range evidence {
		fmt.Fprintf(&b, "[%d] %s:%d-%d", i+1,
			e.Chunk.FilePath, e.Chunk.StartLine, e.Chunk.EndLine)
		if e.Chunk.SymbolPath != "" {
			fmt.Fprintf(&b, " (%s)", e.Chunk.SymbolPath)
		}
		b.WriteString("\n")
		b.WriteString(truncateEvidence(e.Chunk.Content, maxEvidenceChars))
		b.WriteString("\n\n")
	}

	b.WriteString("Answer:")
	return b.String()
}

// cleanAnswer strips whitespace and common model preambles.
func cleanAnswer(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"Answer:", "answer:"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	return text
}

func truncateEvidence(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "\n[truncated]"
}
