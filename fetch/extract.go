package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxFetchBytes = 32 * 1024 // 32KB limit to avoid overwhelming LLM context

// skipped elements contribute no text.
var skipped = map[atom.Atom]bool{ //nolint:gochecknoglobals
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Svg:      true,
}

// blocks end a line of text.
var blocks = map[atom.Atom]bool{ //nolint:gochecknoglobals
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Dd: true, atom.Dt: true,
}

// ExtractText parses an HTML document and returns its title and readable
// text. Scripts, styles and page chrome (nav, header, footer) are dropped,
// blank lines are collapsed and the text is truncated to 32KB.
func ExtractText(page string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", truncate(strings.TrimSpace(page))
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title {
				if title == "" && n.FirstChild != nil {
					title = strings.Join(strings.Fields(n.FirstChild.Data), " ")
				}
				return
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return title, truncate(strings.Join(lines, "\n"))
}

func truncate(s string) string {
	if len(s) <= maxFetchBytes {
		return s
	}
	cut := maxFetchBytes
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[TRUNCATED]"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// estimateTokens approximates token usage at four bytes per token for
// readers whose backend does not report it.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
