package tracker

import (
	"sort"
	"strings"
	"sync"
	"testing"
)

func TestTokenTrackerTotalsAndBreakdown(t *testing.T) {
	tt := NewTokenTracker(0)
	tt.TrackUsage("agent", 100)
	tt.TrackUsage("evaluator", 40)
	tt.TrackTokens("agent", 10, 5)

	if got := tt.Total(); got != 155 {
		t.Fatalf("expected total 155, got %d", got)
	}
	b := tt.Breakdown()
	if b["agent"] != 115 || b["evaluator"] != 40 {
		t.Fatalf("unexpected breakdown: %v", b)
	}
	u := tt.Usage()
	if u.PromptTokens != 10 || u.CompletionTokens != 145 || u.TotalTokens != 155 {
		t.Fatalf("unexpected usage: %+v", u)
	}
}

func TestTokenTrackerSoftBudgetDropsRecords(t *testing.T) {
	tt := NewTokenTracker(100)
	steps := []struct {
		tokens int
		accept bool
	}{
		{60, true},
		{50, false},
		{40, true},
		{1, false},
	}
	want := 0
	for i, s := range steps {
		ok := tt.TrackUsage("agent", s.tokens)
		if ok != s.accept {
			t.Fatalf("step %d: expected accept=%v, got %v", i, s.accept, ok)
		}
		if ok {
			want += s.tokens
		}
		if got := tt.Total(); got != want {
			t.Fatalf("step %d: expected total %d, got %d", i, want, got)
		}
	}
}

func TestTokenTrackerNegativeTokensClamped(t *testing.T) {
	tt := NewTokenTracker(0)
	tt.TrackUsage("agent", -5)
	if got := tt.Total(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestTokenTrackerListeners(t *testing.T) {
	tt := NewTokenTracker(10)
	var got []Record
	remove := tt.OnUsage(func(r Record) { got = append(got, r) })

	tt.TrackUsage("a", 4)
	tt.TrackUsage("b", 20) // dropped, no event
	remove()
	tt.TrackUsage("c", 1)

	if len(got) != 1 || got[0].Tool != "a" || got[0].Tokens() != 4 {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestTokenTrackerListenerCanRemoveItself(t *testing.T) {
	tt := NewTokenTracker(0)
	calls := 0
	var remove func()
	remove = tt.OnUsage(func(Record) {
		calls++
		remove()
		_ = tt.Total()
	})
	tt.TrackUsage("a", 1)
	tt.TrackUsage("a", 1)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestTokenTrackerReset(t *testing.T) {
	tt := NewTokenTracker(0)
	tt.TrackUsage("a", 3)
	tt.Reset()
	if tt.Total() != 0 || len(tt.Breakdown()) != 0 {
		t.Fatalf("expected empty tracker after reset")
	}
}

func TestTokenTrackerConcurrentRecording(t *testing.T) {
	tt := NewTokenTracker(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tt.TrackUsage("read", 2)
		}()
	}
	wg.Wait()
	if got := tt.Total(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestActionTrackerMergesState(t *testing.T) {
	at := NewActionTracker()
	var events []State
	remove := at.OnAction(func(s State) { events = append(events, s) })
	defer remove()

	at.TrackAction(State{TotalStep: 1, Gaps: []string{"q"}, Think: "first"})
	at.TrackAction(State{Action: "search", Think: "second"})

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	last := events[1]
	if last.TotalStep != 1 || last.Action != "search" || last.Think != "second" || len(last.Gaps) != 1 {
		t.Fatalf("unexpected merged state: %+v", last)
	}
}

func TestActionTrackerStateIsCopy(t *testing.T) {
	at := NewActionTracker()
	at.TrackAction(State{Gaps: []string{"a", "b"}})
	s := at.State()
	s.Gaps[0] = "mutated"
	if at.State().Gaps[0] != "a" {
		t.Fatal("State must return a defensive copy")
	}
}

func TestActionTrackerThinkLocalized(t *testing.T) {
	at := NewActionTracker()
	at.TrackThink("search_for", "en-US", map[string]string{"keywords": "go generics"})
	if got := at.State().Think; got != "Let me search for go generics to gather more information." {
		t.Fatalf("unexpected think: %q", got)
	}
	at.TrackThink("eval_first", "zz", nil)
	if got := at.State().Think; got != "But wait, let me evaluate the answer first." {
		t.Fatalf("expected English fallback, got %q", got)
	}
	at.TrackThink("plain text", "", nil)
	if got := at.State().Think; got != "plain text" {
		t.Fatalf("expected verbatim text, got %q", got)
	}
}

func TestActionTrackerListenerDetach(t *testing.T) {
	at := NewActionTracker()
	remove := at.OnAction(func(State) {})
	if at.Listeners() != 1 {
		t.Fatalf("expected 1 listener")
	}
	remove()
	remove()
	if at.Listeners() != 0 {
		t.Fatalf("expected listener to be detached")
	}
	at.TrackAction(State{Think: "x"})
	at.Reset()
	if at.State().Think != "" {
		t.Fatalf("expected reset state")
	}
}

func TestMessageTableHoldsEmittedKeys(t *testing.T) {
	var keys []string
	for k, table := range messages {
		keys = append(keys, k)
		if table["en"] == "" {
			t.Fatalf("%s has no English text", k)
		}
	}
	sort.Strings(keys)
	if got := strings.Join(keys, ","); got != "eval_first,read_for,search_for" {
		t.Fatalf("unexpected message keys %s", got)
	}
}
