package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/llm"
)

const (
	defaultCodeTimeout  = 5 * time.Second
	defaultCodeAttempts = 3
	maxKnowledgeInCode  = 2000
)

const coderSystemPrompt = `You write plain JavaScript (ES5.1 plus common ES2015 features, no modules, no network, no file system) that solves a problem.
The code runs as the body of a function: end it with a return statement producing the result.
A global array named knowledge holds gathered facts as objects with question and answer fields; use it when the problem refers to earlier findings.
console.log output is captured as well.`

var codeSchema = llm.Object(map[string]*llm.Schema{ //nolint:gochecknoglobals
	"think": llm.String("Short plan for the code"),
	"code":  llm.String("JavaScript function body ending with a return statement"),
}, "think", "code")

// ErrNoOutput is returned when code ran but produced nothing.
var ErrNoOutput = errors.New("code produced no output")

// Coder solves computational issues by asking a model for JavaScript and
// running it in an isolated goja runtime.
type Coder struct {
	model    llm.Generator
	cfg      settings
	timeout  time.Duration
	attempts int
}

// WithCodeTimeout bounds each execution of generated code.
func WithCodeTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.codeTimeout = d
		}
	}
}

// WithCodeAttempts sets how many times code is generated before giving up.
func WithCodeAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.codeAttempts = n
		}
	}
}

// NewCoder constructs a Coder. The default temperature is 0.
func NewCoder(model llm.Generator, opts ...Option) *Coder {
	cfg := buildSettings(0, append([]Option{WithCodeTimeout(defaultCodeTimeout), WithCodeAttempts(defaultCodeAttempts)}, opts...))
	return &Coder{model: model, cfg: cfg, timeout: cfg.codeTimeout, attempts: cfg.codeAttempts}
}

type codeAttempt struct {
	code string
	err  error
}

// Solve implements deepsearch.CodeSolver.
func (c *Coder) Solve(ctx context.Context, issue string, knowledge []deepsearch.KnowledgeItem) (deepsearch.Solution, error) {
	var usage llm.Usage
	var history []codeAttempt
	for i := 0; i < c.attempts; i++ {
		var out struct {
			Code string `json:"code"`
		}
		u, err := llm.GenerateObject(ctx, c.model, c.cfg.request(coderSystemPrompt, codePrompt(issue, history), "code", codeSchema), &out)
		usage = usage.Add(u)
		if err != nil {
			return deepsearch.Solution{Usage: usage}, fmt.Errorf("generate code: %w", err)
		}
		output, err := c.Run(ctx, out.Code, knowledge)
		if err == nil {
			return deepsearch.Solution{Output: output, Code: out.Code, Usage: usage}, nil
		}
		c.cfg.logger.Debug("code attempt failed", "attempt", i+1, "error", err)
		history = append(history, codeAttempt{code: out.Code, err: err})
		if ctx.Err() != nil {
			break
		}
	}
	last := history[len(history)-1]
	return deepsearch.Solution{Code: last.code, Usage: usage}, fmt.Errorf("code failed after %d attempts: %w", len(history), last.err)
}

func codePrompt(issue string, history []codeAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem:\n%s\n", issue)
	for i, h := range history {
		fmt.Fprintf(&b, "\nAttempt %d:\n```javascript\n%s\n```\nError: %v\n", i+1, h.code, h.err)
	}
	if len(history) > 0 {
		b.WriteString("\nFix the errors above.")
	}
	return b.String()
}

// Run executes a JavaScript function body and returns its result, or the
// captured console output when the result is empty.
func (c *Coder) Run(ctx context.Context, code string, knowledge []deepsearch.KnowledgeItem) (string, error) {
	vm := goja.New()

	var logs []string
	console := map[string]any{
		"log": func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			logs = append(logs, strings.Join(parts, " "))
			return goja.Undefined()
		},
	}
	if err := vm.Set("console", console); err != nil {
		return "", err
	}
	facts := make([]map[string]any, len(knowledge))
	for i, k := range knowledge {
		answer := k.Answer
		if len(answer) > maxKnowledgeInCode {
			answer = answer[:maxKnowledgeInCode]
		}
		facts[i] = map[string]any{"question": k.Question, "answer": answer}
	}
	if err := vm.Set("knowledge", facts); err != nil {
		return "", err
	}

	timer := time.AfterFunc(c.timeout, func() { vm.Interrupt("execution timed out") })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	v, err := vm.RunString("(function() {\n" + code + "\n})()")
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", fmt.Errorf("interrupted: %v", interrupted.Value())
		}
		return "", err
	}

	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		if s, ok := v.Export().(string); ok {
			return s, nil
		}
		data, err := json.Marshal(v.Export())
		if err != nil {
			return v.String(), nil
		}
		return string(data), nil
	}
	if len(logs) > 0 {
		return strings.Join(logs, "\n"), nil
	}
	return "", ErrNoOutput
}
