package deepsearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smhanov/deepsearch/llm"
)

// ActionKind discriminates the step actions.
type ActionKind string

const (
	ActionSearch  ActionKind = "search"
	ActionVisit   ActionKind = "visit"
	ActionReflect ActionKind = "reflect"
	ActionAnswer  ActionKind = "answer"
	ActionCoding  ActionKind = "coding"
)

// Action is the one thing the agent does in a step. The concrete types are
// *SearchAction, *VisitAction, *ReflectAction, *AnswerAction and
// *CodingAction.
type Action interface {
	Kind() ActionKind
	// Rationale is the model's explanation for choosing the action.
	Rationale() string
	isAction()
}

// SearchAction asks for web searches.
type SearchAction struct {
	Think    string   `json:"think"`
	Requests []string `json:"searchRequests"`
}

// VisitAction asks to read URLs.
type VisitAction struct {
	Think string   `json:"think"`
	URLs  []string `json:"URLTargets"`
}

// ReflectAction proposes sub-questions to resolve first.
type ReflectAction struct {
	Think     string   `json:"think"`
	Questions []string `json:"questionsToAnswer"`
}

// Reference supports an answer with a quote from a source.
type Reference struct {
	ExactQuote string `json:"exactQuote"`
	URL        string `json:"url"`
}

// AnswerAction is an answer attempt.
type AnswerAction struct {
	Think      string      `json:"think"`
	Answer     string      `json:"answer"`
	References []Reference `json:"references"`
	// IsFinal is set only on the step that ends the session.
	IsFinal bool `json:"isFinal"`
	// Markdown is the rendered answer, filled in when the session ends.
	Markdown string `json:"-"`
}

// CodingAction asks the sandbox to compute something.
type CodingAction struct {
	Think string `json:"think"`
	Issue string `json:"codingIssue"`
}

func (*SearchAction) Kind() ActionKind  { return ActionSearch }
func (*VisitAction) Kind() ActionKind   { return ActionVisit }
func (*ReflectAction) Kind() ActionKind { return ActionReflect }
func (*AnswerAction) Kind() ActionKind  { return ActionAnswer }
func (*CodingAction) Kind() ActionKind  { return ActionCoding }

func (a *SearchAction) Rationale() string  { return a.Think }
func (a *VisitAction) Rationale() string   { return a.Think }
func (a *ReflectAction) Rationale() string { return a.Think }
func (a *AnswerAction) Rationale() string  { return a.Think }
func (a *CodingAction) Rationale() string  { return a.Think }

func (*SearchAction) isAction()  {}
func (*VisitAction) isAction()   {}
func (*ReflectAction) isAction() {}
func (*AnswerAction) isAction()  {}
func (*CodingAction) isAction()  {}

// ErrMalformedAction is returned when model output is not a valid step.
var ErrMalformedAction = errors.New("malformed step action")

type actionEnvelope struct {
	Action            ActionKind  `json:"action"`
	Think             string      `json:"think"`
	Thoughts          string      `json:"thoughts"`
	SearchRequests    []string    `json:"searchRequests"`
	SearchQuery       string      `json:"searchQuery"`
	URLTargets        []string    `json:"URLTargets"`
	QuestionsToAnswer []string    `json:"questionsToAnswer"`
	Answer            string      `json:"answer"`
	References        []Reference `json:"references"`
	CodingIssue       string      `json:"codingIssue"`
}

// ParseAction decodes model text into an Action. The text may contain
// surrounding prose or code fences; the first JSON object is used.
func ParseAction(text string) (Action, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	var env actionEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	think := strings.TrimSpace(env.Think)
	if think == "" {
		think = strings.TrimSpace(env.Thoughts)
	}

	switch ActionKind(strings.ToLower(strings.TrimSpace(string(env.Action)))) {
	case ActionSearch:
		reqs := nonEmpty(env.SearchRequests)
		if len(reqs) == 0 && strings.TrimSpace(env.SearchQuery) != "" {
			reqs = []string{strings.TrimSpace(env.SearchQuery)}
		}
		if len(reqs) == 0 {
			return nil, fmt.Errorf("%w: search without searchRequests", ErrMalformedAction)
		}
		return &SearchAction{Think: think, Requests: reqs}, nil
	case ActionVisit:
		urls := nonEmpty(env.URLTargets)
		if len(urls) == 0 {
			return nil, fmt.Errorf("%w: visit without URLTargets", ErrMalformedAction)
		}
		return &VisitAction{Think: think, URLs: urls}, nil
	case ActionReflect:
		qs := nonEmpty(env.QuestionsToAnswer)
		if len(qs) == 0 {
			return nil, fmt.Errorf("%w: reflect without questionsToAnswer", ErrMalformedAction)
		}
		return &ReflectAction{Think: think, Questions: qs}, nil
	case ActionAnswer:
		if strings.TrimSpace(env.Answer) == "" {
			return nil, fmt.Errorf("%w: answer without text", ErrMalformedAction)
		}
		return &AnswerAction{Think: think, Answer: strings.TrimSpace(env.Answer), References: env.References}, nil
	case ActionCoding:
		if strings.TrimSpace(env.CodingIssue) == "" {
			return nil, fmt.Errorf("%w: coding without codingIssue", ErrMalformedAction)
		}
		return &CodingAction{Think: think, Issue: strings.TrimSpace(env.CodingIssue)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedAction, env.Action)
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
