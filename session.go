package deepsearch

import (
	"strings"
	"time"

	"github.com/smhanov/deepsearch/llm"
	"github.com/smhanov/deepsearch/tracker"
)

// allowSet records which actions are offered, or blocked, for a step.
type allowSet struct {
	search, visit, reflect, answer, coding bool
}

func (s allowSet) allows(k ActionKind) bool {
	switch k {
	case ActionSearch:
		return s.search
	case ActionVisit:
		return s.visit
	case ActionReflect:
		return s.reflect
	case ActionAnswer:
		return s.answer
	case ActionCoding:
		return s.coding
	}
	return false
}

func (s allowSet) kinds() []ActionKind {
	var out []ActionKind
	for _, k := range []ActionKind{ActionSearch, ActionVisit, ActionReflect, ActionAnswer, ActionCoding} {
		if s.allows(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s allowSet) empty() bool { return len(s.kinds()) == 0 }

// sessionParams seeds one run of the loop.
type sessionParams struct {
	id        string
	question  string
	depth     int
	budget    int
	maxBad    int
	totalStep int
	knowledge []KnowledgeItem
	keywords  []string
	visited   []string
	messages  []Message
	lang      string
	tokens    *tracker.TokenTracker
	actions   *tracker.ActionTracker
}

// session is the mutable state of one run. It is owned by a single
// goroutine.
type session struct {
	id       string
	question string
	depth    int
	budget   int
	baseline int
	maxBad   int
	lang     string

	step        int
	totalStep   int
	badAttempts int
	blocked     allowSet
	codingOff   bool
	overBudget  bool

	diary     []string
	knowledge []KnowledgeItem
	attempts  []BadAttempt
	gaps      []string
	messages  []Message

	candidates map[string]SearchResult
	order      []string
	visited    map[string]bool
	visitOrder []string
	badURLs    map[string]bool

	requests  []string
	keywords  []string
	questions []string

	tokens  *tracker.TokenTracker
	actions *tracker.ActionTracker
	now     func() time.Time
}

func newSession(p sessionParams, now func() time.Time) *session {
	s := &session{
		id:         p.id,
		question:   strings.TrimSpace(p.question),
		depth:      p.depth,
		budget:     p.budget,
		maxBad:     p.maxBad,
		totalStep:  p.totalStep,
		lang:       p.lang,
		knowledge:  append([]KnowledgeItem(nil), p.knowledge...),
		keywords:   append([]string(nil), p.keywords...),
		messages:   p.messages,
		candidates: make(map[string]SearchResult),
		visited:    make(map[string]bool),
		badURLs:    make(map[string]bool),
		tokens:     p.tokens,
		actions:    p.actions,
		now:        now,
	}
	for _, u := range p.visited {
		s.markVisited(u)
	}
	s.questions = []string{s.question}
	s.baseline = s.tokens.Total()
	return s
}

// used returns the tokens recorded on the shared tracker since this session
// started, including those of its sub-sessions.
func (s *session) used() int {
	return s.tokens.Total() - s.baseline
}

func (s *session) withinBudget() bool {
	return !s.overBudget && s.used() < s.budget
}

// track records model usage under tool. A dropped record means the tracker
// budget is exhausted, which ends the loop.
func (s *session) track(tool string, u llm.Usage) {
	if !s.tokens.TrackTokens(tool, u.PromptTokens, u.CompletionTokens) {
		s.overBudget = true
	}
}

func (s *session) nextQuestion() string {
	if len(s.gaps) == 0 {
		return s.question
	}
	q := s.gaps[0]
	s.gaps = s.gaps[1:]
	return q
}

func (s *session) appendDiary(entry string) {
	if entry = strings.TrimSpace(entry); entry != "" {
		s.diary = append(s.diary, entry)
	}
}

func (s *session) addKnowledge(item KnowledgeItem) {
	if item.Updated.IsZero() {
		item.Updated = s.now()
	}
	s.knowledge = append(s.knowledge, item)
}

// register adds search results to the candidate registry, skipping URLs
// that are visited, bad or already known. It returns how many were added.
func (s *session) register(results []SearchResult) int {
	added := 0
	for _, r := range results {
		u, err := NormalizeURL(r.URL)
		if err != nil || s.visited[u] || s.badURLs[u] {
			continue
		}
		if _, ok := s.candidates[u]; ok {
			continue
		}
		r.URL = u
		s.candidates[u] = r
		s.order = append(s.order, u)
		added++
	}
	return added
}

func (s *session) unregister(u string) {
	if _, ok := s.candidates[u]; !ok {
		return
	}
	delete(s.candidates, u)
	for i, v := range s.order {
		if v == u {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *session) markVisited(u string) {
	if s.visited[u] {
		return
	}
	s.visited[u] = true
	s.visitOrder = append(s.visitOrder, u)
	s.unregister(u)
}

func (s *session) markBad(u string) {
	s.badURLs[u] = true
	s.unregister(u)
}

// unvisited lists candidate URLs in discovery order.
func (s *session) unvisited() []SearchResult {
	out := make([]SearchResult, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, s.candidates[u])
	}
	return out
}

// progress reports the session state. Gaps is never nil so an emptied
// queue replaces the tracker's previous list.
func (s *session) progress(action Action) tracker.State {
	st := tracker.State{
		Gaps:        append(make([]string, 0, len(s.gaps)), s.gaps...),
		BadAttempts: s.badAttempts,
		TotalStep:   s.totalStep,
	}
	if action != nil {
		st.Action = action
		st.Think = action.Rationale()
	}
	return st
}
