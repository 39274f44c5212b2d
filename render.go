package deepsearch

import (
	"fmt"
	"regexp"
	"strings"
)

var refMarker = regexp.MustCompile(`\(REF_(\d+)\)`) //nolint:gochecknoglobals

var quoteEscaper = strings.NewReplacer( //nolint:gochecknoglobals
	`[`, `\[`,
	`]`, `\]`,
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
)

// Render turns an answer into markdown: (REF_n) markers become footnote
// markers [^n] and a references block listing each quote and its URL is
// appended.
func Render(a *AnswerAction) string {
	if a == nil {
		return ""
	}
	body := refMarker.ReplaceAllString(a.Answer, "[^$1]")
	if len(a.References) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n<references>\n")
	for i, r := range a.References {
		quote := strings.TrimSpace(quoteEscaper.Replace(r.ExactQuote))
		fmt.Fprintf(&b, "[^%d]: [%s](%s)\n", i+1, quote, r.URL)
	}
	b.WriteString("</references>")
	return b.String()
}
