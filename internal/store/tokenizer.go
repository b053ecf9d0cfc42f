package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches identifier-like sequences, keeping :: so that C++
// symbol paths like TTree::Draw survive the initial split intact.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+(?:::[a-zA-Z0-9_]+)*`)

// TokenizeCode splits text with code-aware rules. C++ qualified names
// contribute both the whole path and their components, camelCase and
// snake_case identifiers are split, and everything is lowercased.
// Tokens shorter than 2 chars are dropped.
func TokenizeCode(text string) []string {
	var tokens []string

	words := tokenRegex.FindAllString(text, -1)
	for _, word := range words {
		if strings.Contains(word, "::") {
			// Whole qualified path first, then each segment.
			tokens = appendToken(tokens, word)
			for _, seg := range strings.Split(word, "::") {
				tokens = appendSplit(tokens, seg)
			}
			continue
		}
		tokens = appendSplit(tokens, word)
	}

	return tokens
}

func appendSplit(tokens []string, word string) []string {
	for _, t := range SplitCodeToken(word) {
		tokens = appendToken(tokens, t)
	}
	return tokens
}

func appendToken(tokens []string, t string) []string {
	lower := strings.ToLower(t)
	if len(lower) >= 2 {
		tokens = append(tokens, lower)
	}
	return tokens
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	var result []string

	if strings.Contains(token, "_") {
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}

	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
// Examples:
//   - "GetEntries" -> ["Get", "Entries"]
//   - "TH1F" -> ["TH1F"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
