package deepsearch

import (
	"fmt"
	"strings"
	"time"

	"github.com/smhanov/deepsearch/llm"
)

const agentSystemPrompt = "You are a meticulous research analyst working step by step. Every step you choose exactly one action and justify it in the think field. Ground every claim in gathered knowledge, never in memory alone. Respond with a single JSON object that matches the schema and nothing else."

const beastSystemPrompt = "You are a research analyst out of time. Research has stopped and you must commit to the best definitive answer the gathered knowledge supports. Educated guesses grounded in the context are allowed; hedging and disclaimers are not. Respond with a single JSON object that matches the schema and nothing else."

const maxKnowledgeChars = 4000

// buildStepPrompt renders the session state and the allowed actions for
// one decision.
func buildStepPrompt(s *session, question string, allow allowSet, beast bool, now time.Time, caps stepCaps) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("Current date: %s\n\n## Question\n%s", now.UTC().Format(time.RFC1123), question))
	if question != s.question {
		sections = append(sections, "This is a sub-question of the original question:\n"+s.question)
	}

	if len(s.messages) > 0 {
		var b strings.Builder
		b.WriteString("## Conversation\nEarlier turns of this conversation:\n")
		for _, m := range s.messages {
			fmt.Fprintf(&b, "\n[%s] %s", m.Role, strings.TrimSpace(m.Content))
		}
		sections = append(sections, b.String())
	}

	if len(s.diary) > 0 {
		sections = append(sections, "## Context\nYou have taken these actions so far:\n\n"+strings.Join(s.diary, "\n\n"))
	}

	if len(s.knowledge) > 0 {
		var b strings.Builder
		b.WriteString("## Knowledge\nFacts gathered so far that may help answer the question:\n")
		for i, k := range s.knowledge {
			fmt.Fprintf(&b, "\n### Knowledge %d: %s\n%s\n", i+1, k.Question, truncate(k.Answer, maxKnowledgeChars))
			if len(k.References) > 0 {
				fmt.Fprintf(&b, "Sources: %s\n", strings.Join(k.References, ", "))
			}
			if k.SourceCode != "" {
				fmt.Fprintf(&b, "Code:\n```javascript\n%s\n```\n", k.SourceCode)
			}
		}
		sections = append(sections, b.String())
	}

	if len(s.attempts) > 0 {
		var b strings.Builder
		b.WriteString("## Unsuccessful Attempts\nThese answers were rejected:\n")
		var lessons []string
		for i, at := range s.attempts {
			fmt.Fprintf(&b, "\n### Attempt %d\n- Question: %s\n- Answer: %s\n- Reject Reason: %s\n- Actions Recap: %s\n- Actions Blame: %s\n",
				i+1, at.Question, at.Answer, at.Evaluation, at.Recap, at.Blame)
			if at.Improvement != "" {
				lessons = append(lessons, "- "+at.Improvement)
			}
		}
		if len(lessons) > 0 {
			b.WriteString("\n## Learned Strategy\n")
			b.WriteString(strings.Join(lessons, "\n"))
		}
		sections = append(sections, b.String())
	}

	if len(s.keywords) > 0 && allow.search {
		sections = append(sections, "## Searched Keywords\nDo not repeat these queries:\n"+strings.Join(s.keywords, "\n"))
	}

	sections = append(sections, "## Actions\nChoose exactly one of the following actions:\n\n"+strings.Join(describeActions(s, allow, beast, caps), "\n\n"))
	sections = append(sections, "Respond with valid JSON only. Include exactly one action type, no unsupported keys and no text outside the JSON object.")
	return strings.Join(sections, "\n\n")
}

func describeActions(s *session, allow allowSet, beast bool, caps stepCaps) []string {
	var out []string
	if allow.visit {
		var b strings.Builder
		fmt.Fprintf(&b, "**visit**:\n- Read the full content of up to %d of these URLs:\n", caps.urls)
		for _, r := range s.unvisited() {
			fmt.Fprintf(&b, "  + %q: %q\n", r.URL, oneLine(r.Title+" "+r.Description))
		}
		b.WriteString("- Use it to dig into sources that likely hold the answer")
		out = append(out, b.String())
	}
	if allow.search {
		out = append(out, fmt.Sprintf("**search**:\n- Query a public search engine with up to %d keyword queries\n- Each query covers one aspect of the question\n- Use keywords, not full sentences", caps.queries))
	}
	if allow.coding {
		out = append(out, "**coding**:\n- Describe a computation, data transformation or counting problem in codingIssue\n- A sandbox writes and runs JavaScript to solve it and adds the result to your knowledge")
	}
	if allow.answer {
		if beast {
			out = append(out, "**answer**:\n- This is your last chance to answer. Investigate every detail of the context and give the best answer you can.\n- Educated guesses based on the gathered knowledge are allowed.\n- Cite sources as (REF_n) markers matching the order of the references array.\n- The answer must be definitive.")
		} else {
			desc := "**answer**:\n- Answer only when fully certain\n- Cite sources as (REF_n) markers matching the order of the references array\n- The answer must be definitive, without hedging"
			if allow.reflect {
				desc += "\n- If doubts remain, reflect instead"
			}
			out = append(out, desc)
		}
	}
	if allow.reflect {
		out = append(out, fmt.Sprintf("**reflect**:\n- Identify knowledge gaps and ask up to %d clarifying questions\n- Each question is original, focused on one concept and under 20 words", caps.reflect))
	}
	return out
}

// stepCaps are the per-step limits advertised to the model and enforced by
// the schema.
type stepCaps struct {
	urls, queries, reflect int
}

// actionSchema builds the output schema for a step, offering only the
// allowed actions and their fields.
func actionSchema(allow allowSet, caps stepCaps) *llm.Schema {
	var kinds []string
	for _, k := range allow.kinds() {
		kinds = append(kinds, string(k))
	}
	props := map[string]*llm.Schema{
		"action": {Type: llm.TypeString, Enum: kinds, Description: "The single action to take"},
		"think":  llm.String("Brief reasoning for choosing this action"),
	}
	if allow.search {
		props["searchRequests"] = llm.StringArray("Keyword queries for the search engine. Required for search.", caps.queries)
	}
	if allow.visit {
		props["URLTargets"] = llm.StringArray("URLs to read. Required for visit.", caps.urls)
	}
	if allow.reflect {
		props["questionsToAnswer"] = llm.StringArray("Clarifying sub-questions. Required for reflect.", caps.reflect)
	}
	if allow.answer {
		props["answer"] = llm.String("The definitive answer with (REF_n) citation markers. Required for answer.")
		props["references"] = &llm.Schema{
			Type:        llm.TypeArray,
			Description: "Supporting quotes, in citation order. Required for answer.",
			Items: llm.Object(map[string]*llm.Schema{
				"exactQuote": llm.String("Exact supporting quote from the source"),
				"url":        llm.String("Source URL"),
			}, "exactQuote", "url"),
		}
	}
	if allow.coding {
		props["codingIssue"] = llm.String("The computation to solve with code. Required for coding.")
	}
	return llm.Object(props, "action", "think")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
