// Package text provides markdown cleanup and counting helpers shared by the
// extractor, the ingestion coordinator and the batch pipeline.
package text

import (
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`\w+`)

// PostprocessMarkdown normalizes extractor output: CRLF/CR to LF, runs of
// 3+ blank lines collapsed to at most 2, each line right-trimmed, leading
// and trailing blank lines removed.
func PostprocessMarkdown(markdown string) string {
	normalized := strings.ReplaceAll(markdown, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	cleaned := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			if blankRun <= 2 {
				cleaned = append(cleaned, "")
			}
			continue
		}
		blankRun = 0
		cleaned = append(cleaned, strings.TrimRight(line, " \t"))
	}

	for len(cleaned) > 0 && cleaned[0] == "" {
		cleaned = cleaned[1:]
	}
	for len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, "\n")
}

// CountWords counts word tokens the way the index-page heuristic expects.
func CountWords(s string) int {
	return len(wordRe.FindAllString(s, -1))
}

// CountLinkMarkers counts markdown link open brackets. Navigation-only pages
// have many of these and little prose.
func CountLinkMarkers(markdown string) int {
	return strings.Count(markdown, "[")
}

// EstimateTokens approximates the token count of markdown content:
// one token per 4 characters or one per word, whichever is larger.
func EstimateTokens(markdown string) int {
	if markdown == "" {
		return 0
	}
	byChars := len(markdown) / 4
	if byChars < 1 {
		byChars = 1
	}
	byWords := CountWords(markdown)
	if byWords < 1 {
		byWords = 1
	}
	if byChars > byWords {
		return byChars
	}
	return byWords
}
