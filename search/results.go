package search

import (
	"html"
	"regexp"
	"strings"
)

// maxResults caps the results returned per query by every provider.
const maxResults = 10

var tagPattern = regexp.MustCompile(`<[^>]+>`) //nolint:gochecknoglobals

// stripTags removes inline markup such as <strong> highlights and decodes
// entities.
func stripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
