package deepsearch

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAction(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind ActionKind
	}{
		{"search", `{"action":"search","think":"t","searchRequests":["a"," ","b"]}`, ActionSearch},
		{"visit fenced", "```json\n{\"action\":\"visit\",\"think\":\"t\",\"URLTargets\":[\"https://x\"]}\n```", ActionVisit},
		{"reflect", `{"action":"reflect","think":"t","questionsToAnswer":["q?"]}`, ActionReflect},
		{"answer with prose", `Here: {"action":"answer","think":"t","answer":"42","references":[]}`, ActionAnswer},
		{"coding", `{"action":"coding","think":"t","codingIssue":"count words"}`, ActionCoding},
		{"upper kind", `{"action":"SEARCH","thoughts":"t","searchRequests":["a"]}`, ActionSearch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := ParseAction(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Kind() != tc.kind {
				t.Fatalf("got kind %s, want %s", a.Kind(), tc.kind)
			}
			if a.Rationale() != "t" {
				t.Fatalf("unexpected rationale %q", a.Rationale())
			}
		})
	}

	a, _ := ParseAction(`{"action":"search","think":"t","searchRequests":["a"," ","b"]}`)
	if got := a.(*SearchAction).Requests; len(got) != 2 {
		t.Fatalf("blank requests must be dropped, got %q", got)
	}
}

func TestParseActionRejects(t *testing.T) {
	for _, in := range []string{
		`{"action":"dance","think":"t"}`,
		`{"action":"search","think":"t"}`,
		`{"action":"visit","think":"t","URLTargets":[]}`,
		`{"action":"reflect","think":"t"}`,
		`{"action":"answer","think":"t","answer":"  "}`,
		`{"action":"coding","think":"t"}`,
		`no json`,
	} {
		if _, err := ParseAction(in); !errors.Is(err, ErrMalformedAction) {
			t.Fatalf("ParseAction(%s): expected ErrMalformedAction, got %v", in, err)
		}
	}
}

func TestRender(t *testing.T) {
	a := &AnswerAction{
		Answer: "Water boils at 100C (REF_1) at sea level (REF_2).",
		References: []Reference{
			{ExactQuote: "boils at *100* degrees", URL: "https://a.example"},
			{ExactQuote: "at [sea]\nlevel_pressure", URL: "https://b.example"},
		},
	}
	got := Render(a)
	want := "Water boils at 100C [^1] at sea level [^2].\n\n<references>\n" +
		"[^1]: [boils at \\*100\\* degrees](https://a.example)\n" +
		"[^2]: [at \\[sea\\] level\\_pressure](https://b.example)\n" +
		"</references>"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}

	if got := Render(&AnswerAction{Answer: "plain"}); got != "plain" {
		t.Fatalf("expected answer unchanged without references, got %q", got)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM/a/b/":     "https://example.com/a/b",
		"http://example.com:80/":       "http://example.com",
		"https://example.com:8443/x#y": "https://example.com:8443/x",
		" https://example.com/?q=1 ":   "https://example.com?q=1",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", "ftp://example.com", "not a url", "https://"} {
		if _, err := NormalizeURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestActionSchemaOffersOnlyAllowedActions(t *testing.T) {
	caps := stepCaps{urls: 3, queries: 5, reflect: 2}
	s := actionSchema(allowSet{answer: true}, caps)
	if got := s.Properties["action"].Enum; len(got) != 1 || got[0] != "answer" {
		t.Fatalf("unexpected action enum %v", got)
	}
	for _, key := range []string{"searchRequests", "URLTargets", "questionsToAnswer", "codingIssue"} {
		if _, ok := s.Properties[key]; ok {
			t.Fatalf("schema must not offer %s", key)
		}
	}

	s = actionSchema(allowSet{search: true, visit: true}, caps)
	if s.Properties["URLTargets"].MaxItems != 3 || s.Properties["searchRequests"].MaxItems != 5 {
		t.Fatalf("per-step caps not applied: %+v", s.Properties)
	}
	if !strings.Contains(string(s.JSON()), `"enum":["search","visit"]`) {
		t.Fatalf("unexpected schema %s", s.JSON())
	}
}
