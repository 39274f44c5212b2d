// Package deepsearch is a deep-research agent. Given a question, it loops
// over search, visit, reflect, coding and answer steps chosen by a language
// model until an answer passes evaluation, the token budget runs out or too
// many answers are rejected.
//
// # Architecture
//
// Each step the agent builds a prompt from the session state (diary,
// gathered knowledge, rejected attempts, unvisited URLs) and asks the model
// for one Action constrained by a JSON schema that offers only the actions
// allowed right now:
//
//  1. search runs keyword queries through a SearchProvider and registers
//     the result URLs as candidates.
//  2. visit reads candidate URLs concurrently through a Reader and adds
//     their content to knowledge.
//  3. reflect proposes sub-questions; each one is researched by a nested
//     session with a share of the remaining budget.
//  4. coding hands a computation to a CodeSolver.
//  5. answer is checked by an Evaluator. A rejected answer is analyzed, the
//     diary is reset and the lessons are carried into the next attempt.
//
// When the loop ends without an accepted answer, a final answer is forced
// from everything gathered so far.
//
// # Basic Usage
//
//	model, _ := llm.NewOpenAI(apiKey, "", "gpt-4o-mini", nil)
//	agent := deepsearch.New(
//	    deepsearch.WithModel(model),
//	    deepsearch.WithSearchProvider(search.NewDuckDuckGo()),
//	    deepsearch.WithReader(fetch.NewHTTP()),
//	    deepsearch.WithEvaluator(tools.NewEvaluator(llm.WithRetry(model, retry.Options{}))),
//	)
//
// The agent retries its own model calls (see WithRetryOptions), so the
// model passed to WithModel should not be wrapped with llm.WithRetry.
//
//	res, err := agent.Answer(ctx, "Who won the 1998 World Cup?",
//	    deepsearch.WithTokenBudget(200_000))
//	fmt.Println(res.Answer().Markdown)
//	fmt.Println(res.Usage.TotalTokens)
//
// # Progress
//
// Pass trackers with WithTrackers to observe a session while it runs:
// tracker.TokenTracker reports every usage record and tracker.ActionTracker
// reports each step and a short human-readable "think" message. The server
// package streams those messages to chat clients.
//
// # Collaborators
//
// Every collaborator is an interface so the agent never depends on a
// specific model or web service. The tools, search and fetch packages
// provide implementations; any of them may be omitted, in which case the
// matching action is simply never offered.
package deepsearch
