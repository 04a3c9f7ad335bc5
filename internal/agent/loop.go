package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/webpilot/internal/executor"
	"github.com/harrison/webpilot/internal/llm"
	"github.com/harrison/webpilot/internal/models"
)

// AskUserTool is handled by the loop itself rather than the executor.
const AskUserTool = "ask_user"

// DefaultMaxIterations bounds the loop when no limit is configured.
const DefaultMaxIterations = 200

var askUserSpec = llm.Tool{
	Name:        AskUserTool,
	Description: "Ask the human operator a question, such as a password or a 2FA code, and wait for the answer.",
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"question"},
	},
}

// ToolExecutor runs tool calls by name.
type ToolExecutor interface {
	Catalog() []llm.Tool
	Execute(ctx context.Context, name string, input map[string]interface{}) (*executor.ToolResult, error)
}

// Asker reads an answer from the human operator. It blocks until a line
// arrives or ctx is done.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// ActionRecorder receives one entry per tool call. *ledger.Run implements it.
type ActionRecorder interface {
	Record(action string, success bool, errText string, detail map[string]interface{}) error
}

// Logger is the logging surface used by the loop.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogToolCall(name string, input map[string]interface{})
	LogToolResult(name string, ok bool, summary string)
}

// ToolMetrics counts tool calls.
type ToolMetrics interface {
	ToolCall(tool string, ok bool)
}

// LoopResult is the outcome of one loop invocation.
type LoopResult struct {
	Success    bool
	FinalText  string
	Iterations int // model calls made
	ToolCalls  int
}

// Loop drives the tool-use conversation between the model and the browser.
type Loop struct {
	client        llm.Client
	tools         ToolExecutor
	asker         Asker
	logger        Logger
	metrics       ToolMetrics
	system        string
	maxIterations int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithAsker sets the handler for ask_user calls.
func WithAsker(a Asker) LoopOption { return func(l *Loop) { l.asker = a } }

// WithLogger sets the loop logger.
func WithLogger(lg Logger) LoopOption { return func(l *Loop) { l.logger = lg } }

// WithToolMetrics sets the tool call counter.
func WithToolMetrics(m ToolMetrics) LoopOption { return func(l *Loop) { l.metrics = m } }

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(s string) LoopOption { return func(l *Loop) { l.system = s } }

// NewLoop creates a loop bounded to maxIterations model calls.
func NewLoop(client llm.Client, tools ToolExecutor, maxIterations int, opts ...LoopOption) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	l := &Loop{
		client:        client,
		tools:         tools,
		system:        SystemPrompt,
		maxIterations: maxIterations,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run seeds the conversation with instructions and iterates until the model
// ends its turn without tool calls or the iteration bound is hit. Tool
// errors are fed back to the model; only loop-level failures are returned,
// always as *models.RunError.
func (l *Loop) Run(ctx context.Context, instructions string, rec ActionRecorder) (*LoopResult, error) {
	result := &LoopResult{}
	catalog := append(l.tools.Catalog(), askUserSpec)
	messages := []llm.Message{llm.UserText(instructions)}

	for result.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			return result, models.NewRunError(models.ErrorKindUnknown, "run cancelled", err)
		}
		result.Iterations++
		l.debug(fmt.Sprintf("Iteration %d/%d", result.Iterations, l.maxIterations))

		resp, err := l.client.Complete(ctx, llm.Request{
			System:   l.system,
			Messages: messages,
			Tools:    catalog,
		})
		if err != nil {
			return result, models.NewRunError(models.ErrorKindLaunchFailure, "model call failed", err)
		}

		switch {
		case len(resp.ToolCalls) == 0 && (resp.StopReason == llm.StopEndTurn || resp.StopReason == llm.StopSequence):
			result.Success = true
			result.FinalText = strings.TrimSpace(resp.Text)
			if result.FinalText == "" {
				result.FinalText = "Task completed."
			}
			return result, nil

		case resp.StopReason == llm.StopToolUse && len(resp.ToolCalls) > 0:
			messages = append(messages, resp.AssistantMessage())
			for _, call := range resp.ToolCalls {
				result.ToolCalls++
				messages = append(messages, l.dispatch(ctx, call, rec))
			}

		default:
			return result, models.NewRunError(models.ErrorKindUnexpectedResponse,
				fmt.Sprintf("unexpected stop reason %q with %d tool calls", resp.StopReason, len(resp.ToolCalls)),
				models.ErrUnexpectedResponse)
		}
	}

	return result, models.NewRunError(models.ErrorKindMaxIterations,
		fmt.Sprintf("max iterations reached after %d model calls", l.maxIterations),
		models.ErrMaxIterations)
}

// dispatch runs one tool call, records it, and returns the tool-result turn.
func (l *Loop) dispatch(ctx context.Context, call llm.ToolCall, rec ActionRecorder) llm.Message {
	if l.logger != nil {
		l.logger.LogToolCall(call.Name, call.Input)
	}

	var (
		output string
		detail map[string]interface{}
		err    error
	)
	if call.Name == AskUserTool {
		output, err = l.askUser(ctx, call.Input)
		detail = map[string]interface{}{"question": call.Input["question"]}
	} else {
		var res *executor.ToolResult
		res, err = l.tools.Execute(ctx, call.Name, call.Input)
		detail = map[string]interface{}{"input": call.Input}
		if res != nil {
			output = res.Output
			for k, v := range res.Detail {
				detail[k] = v
			}
		}
	}

	ok := err == nil
	errText := ""
	if !ok {
		errText = err.Error()
		output = "Error: " + errText
		detail["error_kind"] = string(toolErrorKind(err))
	}

	if rec != nil {
		if recErr := rec.Record(call.Name, ok, errText, detail); recErr != nil {
			l.warn(fmt.Sprintf("ledger: %v", recErr))
		}
	}
	if l.metrics != nil {
		l.metrics.ToolCall(call.Name, ok)
	}
	if l.logger != nil {
		summary := output
		if ok && call.Name == AskUserTool {
			summary = "answer received"
		}
		l.logger.LogToolResult(call.Name, ok, summary)
	}
	return llm.ToolResult(call.ID, output, !ok)
}

func (l *Loop) askUser(ctx context.Context, input map[string]interface{}) (string, error) {
	if l.asker == nil {
		return "", fmt.Errorf("no interactive input is available")
	}
	question, _ := input["question"].(string)
	if question == "" {
		// Older prompts use "message".
		question, _ = input["message"].(string)
	}
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("ask_user requires a question")
	}
	return l.asker.Ask(ctx, question)
}

// toolErrorKind classifies a tool failure; anything unrecognized is a plain
// tool error rather than unknown.
func toolErrorKind(err error) models.ErrorKind {
	if kind := models.KindOf(err); kind != models.ErrorKindUnknown {
		return kind
	}
	return models.ErrorKindToolError
}

func (l *Loop) debug(msg string) {
	if l.logger != nil {
		l.logger.LogDebug(msg)
	}
}

func (l *Loop) warn(msg string) {
	if l.logger != nil {
		l.logger.LogWarn(msg)
	}
}
