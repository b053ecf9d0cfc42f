package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// providerProbeTimeout bounds the /api/tags request. The probe is a
// health check, not a warm-up: a slow provider fails fast here and the
// build degrades to lexical-only later anyway.
const providerProbeTimeout = 3 * time.Second

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckModel probes the Ollama host for a specific model. Provider
// checks are never required: an unreachable provider degrades retrieval
// to lexical-only instead of blocking a build.
func (c *Checker) CheckModel(ctx context.Context, name, model string) CheckResult {
	result := CheckResult{
		Name:     name,
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, providerProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.OllamaHost+"/api/tags", nil)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("bad provider host %q: %v", c.config.OllamaHost, err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("provider unreachable at %s", c.config.OllamaHost)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("provider returned %d", resp.StatusCode)
		return result
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("bad provider response: %v", err)
		return result
	}

	for _, m := range tags.Models {
		if modelMatches(m.Name, model) {
			result.Status = StatusPass
			result.Message = fmt.Sprintf("%s available", model)
			return result
		}
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("model %s not pulled (run: ollama pull %s)", model, model)
	return result
}

// modelMatches compares model names ignoring the implicit ":latest"
// tag Ollama appends to untagged pulls.
func modelMatches(have, want string) bool {
	if have == want {
		return true
	}
	return strings.TrimSuffix(have, ":latest") == strings.TrimSuffix(want, ":latest")
}
