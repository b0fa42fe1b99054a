// ABOUTME: Placeholder text, extraction prompt and final answer for web searches
// ABOUTME: Sources are numbered across all queries so the model can cite them

package search

import (
	"fmt"
	"strings"
)

// Outcome is what one query produced.
type Outcome struct {
	Query   string
	Results []Result
	Err     error
}

// Placeholder is posted while searches run.
func Placeholder(queries []string) string {
	if len(queries) == 1 {
		return fmt.Sprintf("🔍 Searching the web for: **%s**\n\nFetching and analyzing results...", queries[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Searching the web for %d queries:\n", len(queries))
	for i, q := range queries {
		fmt.Fprintf(&b, "  %d. **%s**\n", i+1, q)
	}
	b.WriteString("\nFetching and analyzing results...")
	return b.String()
}

// Usable reports whether any query returned results.
func Usable(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Err == nil && len(o.Results) > 0 {
			return true
		}
	}
	return false
}

// Sources lists every result in citation order.
func Sources(outcomes []Outcome) []Result {
	var out []Result
	for _, o := range outcomes {
		if o.Err == nil {
			out = append(out, o.Results...)
		}
	}
	return out
}

// Prompt asks the model to answer the queries from the numbered sources.
func Prompt(outcomes []Outcome) string {
	var b strings.Builder
	b.WriteString("Answer the following search queries using only the numbered sources below.\n\n")
	for _, o := range outcomes {
		fmt.Fprintf(&b, "Query: %s\n", o.Query)
		if o.Err != nil {
			fmt.Fprintf(&b, "  (search failed: %v)\n", o.Err)
		}
	}
	b.WriteString("\nSources:\n")
	for i, r := range Sources(outcomes) {
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Answer appends the source list to the model's synthesis.
func Answer(synthesis string, sources []Result) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(synthesis))
	if len(sources) > 0 {
		b.WriteString("\n\n**Sources:**\n")
		for i, r := range sources {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, r.Title, r.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
