package deepsearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// outcome tells the loop what a step decided.
type outcome int

const (
	stepContinue outcome = iota
	stepAnswered
	stepGaveUp
)

func (a *Agent) handleAnswer(ctx context.Context, s *session, question string, act *AnswerAction, log *slog.Logger) (outcome, error) {
	s.appendDiary(fmt.Sprintf("At step %d, you took **answer** action for the question:\n%s\nYour answer was:\n%s", s.step, question, act.Answer))
	top := question == s.question

	ev := Evaluation{Pass: true}
	if a.evaluator != nil {
		s.actions.TrackThink("eval_first", s.lang, nil)
		var err error
		ev, err = a.evaluator.Evaluate(ctx, question, act.Answer)
		s.track("evaluator", ev.Usage)
		if err != nil {
			if top {
				return stepContinue, fmt.Errorf("evaluate answer: %w", err)
			}
			log.Warn("evaluating sub-answer failed", "question", question, "error", err)
			ev = Evaluation{Pass: false, Reasoning: err.Error()}
		}
	}

	if !top {
		if ev.Pass {
			s.appendDiary("The evaluator accepted this answer to a sub-question; it was added to your knowledge.")
			s.addKnowledge(KnowledgeItem{Question: question, Answer: act.Answer, Type: KnowledgeQA, References: referenceURLs(act.References)})
		} else {
			s.appendDiary("The evaluator rejected this answer to a sub-question:\n" + ev.Reasoning)
		}
		return stepContinue, nil
	}

	if ev.Pass {
		if len(act.References) == 0 && len(s.visitOrder)+len(s.order) > 0 {
			s.appendDiary("The answer was accepted but cites no references although sources were available.")
			log.Debug("answer accepted without references")
		}
		act.IsFinal = true
		return stepAnswered, nil
	}

	if s.badAttempts >= s.maxBad {
		s.appendDiary("The evaluator rejected the answer again and no attempts remain:\n" + ev.Reasoning)
		return stepGaveUp, nil
	}

	s.appendDiary("The evaluator rejected the answer:\n" + ev.Reasoning)
	attempt := BadAttempt{Question: question, Answer: act.Answer, Evaluation: ev.Reasoning}
	if a.analyzer != nil {
		an, err := a.analyzer.Analyze(ctx, s.diary)
		s.track("analyzer", an.Usage)
		if err != nil {
			log.Warn("analyzing rejected answer failed", "error", err)
		} else {
			attempt.Recap, attempt.Blame, attempt.Improvement = an.Recap, an.Blame, an.Improvement
			if fresh := exactDedup(an.QuestionsToAnswer, s.questions); len(fresh) > 0 {
				s.questions = append(s.questions, fresh...)
				s.gaps = append(s.gaps, fresh...)
				s.gaps = append(s.gaps, s.question)
			}
		}
	}
	s.attempts = append(s.attempts, attempt)
	s.addKnowledge(KnowledgeItem{Question: question, Answer: act.Answer, Type: KnowledgeQA, References: referenceURLs(act.References)})
	s.badAttempts++
	s.blocked.answer = true
	s.diary = nil
	s.step = 0
	return stepContinue, nil
}

func (a *Agent) handleReflect(ctx context.Context, s *session, question string, act *ReflectAction, log *slog.Logger) error {
	fresh := a.dedup(ctx, s, act.Questions, s.questions, log)
	if len(fresh) > a.maxReflectPerStep {
		fresh = fresh[:a.maxReflectPerStep]
	}
	if len(fresh) == 0 {
		s.appendDiary(fmt.Sprintf("At step %d, you took **reflect** on:\n%s\nEvery question you proposed was already asked. Think outside the box or change direction.", s.step, question))
		s.blocked.reflect = true
		return nil
	}
	s.questions = append(s.questions, fresh...)
	s.appendDiary(fmt.Sprintf("At step %d, you took **reflect** on:\n%s\nYou found these sub-questions worth resolving first:\n- %s", s.step, question, strings.Join(fresh, "\n- ")))

	for _, q := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		budget := subBudget(s.budget, s.used(), a.splitRatio)
		if budget <= 0 {
			log.Debug("no budget left for sub-question", "question", q)
			break
		}
		res, err := a.run(ctx, sessionParams{
			id:        s.id,
			question:  q,
			depth:     s.depth + 1,
			budget:    budget,
			maxBad:    s.maxBad,
			totalStep: s.totalStep,
			knowledge: s.knowledge,
			keywords:  s.keywords,
			visited:   s.visitOrder,
			lang:      s.lang,
			tokens:    s.tokens,
			actions:   s.actions,
		})
		if res.Steps > s.totalStep {
			s.totalStep = res.Steps
		}
		for _, u := range res.VisitedURLs {
			s.markVisited(u)
		}
		if err != nil {
			log.Warn("sub-question failed", "question", q, "error", err)
			continue
		}
		if ans := res.Answer(); ans != nil {
			s.addKnowledge(KnowledgeItem{Question: q, Answer: ans.Answer, Type: KnowledgeQA, References: referenceURLs(ans.References)})
		}
	}
	return nil
}

func (a *Agent) handleSearch(ctx context.Context, s *session, act *SearchAction, log *slog.Logger) {
	requests := a.dedup(ctx, s, act.Requests, s.requests, log)
	s.requests = append(s.requests, requests...)

	queries := requests
	if a.rewriter != nil && len(requests) > 0 {
		rw, err := a.rewriter.Rewrite(ctx, &SearchAction{Think: act.Think, Requests: requests})
		s.track("rewriter", rw.Usage)
		switch {
		case err != nil:
			log.Warn("query rewrite failed", "error", err)
		case len(rw.Queries) > 0:
			queries = rw.Queries
		}
	}
	queries = a.dedup(ctx, s, queries, s.keywords, log)
	if len(queries) > a.maxQueriesPerStep {
		queries = queries[:a.maxQueriesPerStep]
	}
	if len(queries) == 0 {
		s.appendDiary(fmt.Sprintf("At step %d, you took **search** but every query had already been searched. Try something different.", s.step))
		s.blocked.search = true
		return
	}

	s.actions.TrackThink("search_for", s.lang, map[string]string{"keywords": strings.Join(queries, ", ")})
	var searched []string
	found := 0
	for _, q := range queries {
		results, err := a.searcher.Search(ctx, q)
		if err != nil {
			log.Warn("search failed", "query", q, "error", err)
			continue
		}
		searched = append(searched, q)
		s.keywords = append(s.keywords, q)
		found += s.register(results)
		if len(results) == 0 {
			continue
		}
		var lines, refs []string
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("%s: %s", oneLine(r.Title), oneLine(r.Description)))
			refs = append(refs, r.URL)
		}
		s.addKnowledge(KnowledgeItem{
			Question:   fmt.Sprintf("What does the Internet say about %q?", q),
			Answer:     strings.Join(lines, "; "),
			Type:       KnowledgeSideInfo,
			References: refs,
		})
	}
	if len(searched) == 0 {
		s.appendDiary(fmt.Sprintf("At step %d, you took **search** for %q but the search engine failed every time.", s.step, strings.Join(queries, ", ")))
		s.blocked.search = true
		return
	}
	s.appendDiary(fmt.Sprintf("At step %d, you took **search** for:\n%q\nYou found %d new URLs and added the result summaries to your knowledge.", s.step, strings.Join(searched, ", "), found))
}

func (a *Agent) handleVisit(ctx context.Context, s *session, act *VisitAction, log *slog.Logger) {
	var targets []string
	seen := make(map[string]bool)
	for _, raw := range act.URLs {
		u, err := NormalizeURL(raw)
		if err != nil {
			log.Debug("skipping url", "url", raw, "error", err)
			continue
		}
		if s.visited[u] || s.badURLs[u] || seen[u] {
			continue
		}
		seen[u] = true
		targets = append(targets, u)
		if len(targets) == a.maxURLsPerStep {
			break
		}
	}
	if len(targets) == 0 {
		s.appendDiary(fmt.Sprintf("At step %d, you took **visit** but every URL had already been read or failed before. Pick other URLs.", s.step))
		s.blocked.visit = true
		return
	}

	s.actions.TrackThink("read_for", s.lang, map[string]string{"urls": strings.Join(targets, ", ")})
	pages := make([]Page, len(targets))
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, u := range targets {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			pages[i], errs[i] = a.reader.Read(ctx, u)
		}(i, u)
	}
	wg.Wait()

	var read []string
	for i, u := range targets {
		if errs[i] != nil {
			log.Warn("read failed", "url", u, "error", errs[i])
			s.markBad(u)
			continue
		}
		p := pages[i]
		if p.Tokens > 0 && !s.tokens.TrackUsage("read", p.Tokens) {
			s.overBudget = true
		}
		s.addKnowledge(KnowledgeItem{
			Question:   fmt.Sprintf("What is in %s?", u),
			Answer:     oneLine(p.Content),
			Type:       KnowledgeURL,
			References: []string{u},
		})
		s.markVisited(u)
		read = append(read, u)
	}
	if len(read) == 0 {
		s.appendDiary(fmt.Sprintf("At step %d, you took **visit** but none of these URLs could be read:\n%s", s.step, strings.Join(targets, "\n")))
		s.blocked.visit = true
		return
	}
	s.appendDiary(fmt.Sprintf("At step %d, you took **visit** and read:\n%s\nTheir content was added to your knowledge.", s.step, strings.Join(read, "\n")))
}

func (a *Agent) handleCoding(ctx context.Context, s *session, act *CodingAction, log *slog.Logger) {
	s.codingOff = true
	sol, err := a.coder.Solve(ctx, act.Issue, s.knowledge)
	s.track("coder", sol.Usage)
	if err != nil {
		log.Warn("coding failed", "issue", act.Issue, "error", err)
		s.appendDiary(fmt.Sprintf("At step %d, you took **coding** for:\n%s\nThe code could not solve it. Coding is unavailable for the rest of this session.", s.step, act.Issue))
		return
	}
	s.addKnowledge(KnowledgeItem{
		Question:   "What is the solution to the coding issue: " + act.Issue,
		Answer:     sol.Output,
		Type:       KnowledgeCoding,
		SourceCode: sol.Code,
	})
	s.appendDiary(fmt.Sprintf("At step %d, you took **coding** for:\n%s\nThe result was added to your knowledge.", s.step, act.Issue))
}

// dedup filters candidates against each other and against existing,
// semantically when a Deduper is configured. A failing Deduper falls back
// to exact matching.
func (a *Agent) dedup(ctx context.Context, s *session, candidates, existing []string, log *slog.Logger) []string {
	local := exactDedup(candidates, existing)
	if a.deduper == nil || len(local) == 0 || (len(local) == 1 && len(existing) == 0) {
		return local
	}
	res, err := a.deduper.Dedup(ctx, local, existing)
	s.track("dedup", res.Usage)
	if err != nil {
		log.Warn("dedup failed, using exact match", "error", err)
		return local
	}
	// Keep only entries that were candidates so a model cannot invent new
	// ones.
	allowed := make(map[string]bool, len(local))
	for _, c := range local {
		allowed[dedupKey(c)] = true
	}
	var out []string
	for _, u := range res.Unique {
		if allowed[dedupKey(u)] {
			out = append(out, u)
		}
	}
	return exactDedup(out, nil)
}

func exactDedup(candidates, existing []string) []string {
	seen := make(map[string]bool, len(existing)+len(candidates))
	for _, e := range existing {
		seen[dedupKey(e)] = true
	}
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		k := dedupKey(c)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

func dedupKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func referenceURLs(refs []Reference) []string {
	var out []string
	for _, r := range refs {
		if r.URL != "" {
			out = append(out, r.URL)
		}
	}
	return out
}
