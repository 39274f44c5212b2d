package deepsearch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type snapshotAction struct {
	Kind ActionKind `json:"action"`
	Step Action     `json:"step"`
}

type snapshot struct {
	Question    string          `json:"question"`
	Depth       int             `json:"depth"`
	Step        int             `json:"step"`
	TotalStep   int             `json:"totalStep"`
	BadAttempts int             `json:"badAttempts"`
	TokensUsed  int             `json:"tokensUsed"`
	Action      *snapshotAction `json:"action,omitempty"`
	Gaps        []string        `json:"gaps"`
	Diary       []string        `json:"diary"`
	Knowledge   []KnowledgeItem `json:"knowledge"`
	Attempts    []BadAttempt    `json:"badContext"`
	Questions   []string        `json:"allQuestions"`
	Keywords    []string        `json:"allKeywords"`
	Visited     []string        `json:"visitedURLs"`
	Candidates  []SearchResult  `json:"unvisitedURLs"`
}

// writeSnapshot stores the session state after a step as
// <dir>/<session>/<depth>-<totalStep>.json.
func writeSnapshot(dir string, s *session, action Action) error {
	snap := snapshot{
		Question:    s.question,
		Depth:       s.depth,
		Step:        s.step,
		TotalStep:   s.totalStep,
		BadAttempts: s.badAttempts,
		TokensUsed:  s.used(),
		Gaps:        s.gaps,
		Diary:       s.diary,
		Knowledge:   s.knowledge,
		Attempts:    s.attempts,
		Questions:   s.questions,
		Keywords:    s.keywords,
		Visited:     s.visitOrder,
		Candidates:  s.unvisited(),
	}
	if action != nil {
		snap.Action = &snapshotAction{Kind: action.Kind(), Step: action}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir = filepath.Join(dir, s.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("%d-%d.json", s.depth, s.totalStep))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
