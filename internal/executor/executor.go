// ABOUTME: Execution engine boundary between the gateway and entity runners
// ABOUTME: LocalEngine runs registered runners and folds event sequences into responses

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/devgate/internal/auth"
	"github.com/2389/devgate/internal/entity"
)

// Request describes one execution of an entity.
type Request struct {
	EntityID       string `json:"entity_id"`
	Input          string `json:"input"`
	Stream         bool   `json:"stream"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Response is the terminal aggregate of an execution.
type Response struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	CreatedAt int64            `json:"created_at"`
	EntityID  string           `json:"entity_id"`
	Output    []map[string]any `json:"output"`
	Usage     Usage            `json:"usage"`
}

// Usage reports token accounting for a response. In-process runners do not
// meter tokens, so counts stay zero unless a runner emits a usage payload.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// RunInput is what a runner receives: the caller's input plus the
// tool-argument projection of the authenticated execution context.
type RunInput struct {
	Input         string
	ToolArguments map[string]any
}

// EmitFunc delivers one event from a runner. It returns false when the
// consumer is gone and the runner should stop producing.
type EmitFunc func(Envelope) bool

// Runner is the executable side of a registered entity.
type Runner interface {
	Run(ctx context.Context, in RunInput, emit EmitFunc) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, in RunInput, emit EmitFunc) error

func (f RunnerFunc) Run(ctx context.Context, in RunInput, emit EmitFunc) error {
	return f(ctx, in, emit)
}

// Engine is the execution entry point the gateway depends on.
type Engine interface {
	ExecuteSync(ctx context.Context, req *Request) (*Response, error)
	ExecuteStreaming(ctx context.Context, req *Request) (<-chan StreamItem, error)
	AggregateResponse(events []Envelope, req *Request) *Response
}

// ErrEntityNotRunnable is returned when an entity exists but has no runner
// attached (for example a remote stub).
var ErrEntityNotRunnable = fmt.Errorf("entity is not runnable")

// LocalEngine executes runners registered in the entity registry, in-process.
type LocalEngine struct {
	registry *entity.Registry
	logger   *slog.Logger
}

// NewLocalEngine creates an engine over the given registry.
func NewLocalEngine(registry *entity.Registry, logger *slog.Logger) *LocalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngine{
		registry: registry,
		logger:   logger.With("component", "executor"),
	}
}

// runner resolves the entity's runner or fails.
func (e *LocalEngine) runner(entityID string) (Runner, error) {
	obj, ok := e.registry.Object(entityID)
	if !ok {
		return nil, entity.ErrNotFound
	}
	runner, ok := obj.(Runner)
	if !ok {
		return nil, ErrEntityNotRunnable
	}
	return runner, nil
}

// ExecuteStreaming starts the entity and returns a channel of stream items.
// The channel is closed when production completes; a production fault is
// delivered as a final item with Err set. Emission stops promptly when ctx is
// cancelled.
func (e *LocalEngine) ExecuteStreaming(ctx context.Context, req *Request) (<-chan StreamItem, error) {
	runner, err := e.runner(req.EntityID)
	if err != nil {
		return nil, err
	}

	in := RunInput{
		Input:         req.Input,
		ToolArguments: auth.ExecutionFromContext(ctx).ToolArguments(),
	}

	items := make(chan StreamItem)
	go func() {
		defer close(items)

		emit := func(ev Envelope) bool {
			select {
			case items <- StreamItem{Event: ev}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err := runner.Run(ctx, in, emit); err != nil {
			e.logger.Error("entity execution failed", "entity_id", req.EntityID, "error", err)
			select {
			case items <- StreamItem{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return items, nil
}

// ExecuteSync runs the entity to completion and returns the aggregate
// response. Any production fault fails the whole call.
func (e *LocalEngine) ExecuteSync(ctx context.Context, req *Request) (*Response, error) {
	items, err := e.ExecuteStreaming(ctx, req)
	if err != nil {
		return nil, err
	}

	var events []Envelope
	for item := range items {
		if item.Err != nil {
			return nil, item.Err
		}
		events = append(events, item.Event)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return e.AggregateResponse(events, req), nil
}

// AggregateResponse folds an ordered event sequence into one terminal
// response: text deltas concatenate into a single output message, function
// calls become their own output items.
func (e *LocalEngine) AggregateResponse(events []Envelope, req *Request) *Response {
	var text strings.Builder
	var output []map[string]any
	var usage Usage

	for _, ev := range events {
		switch ev.Type {
		case TypeOutputTextDelta:
			if delta, ok := ev.Payload["delta"].(string); ok {
				text.WriteString(delta)
			}
		case TypeFunctionCall:
			item := map[string]any{"type": "function_call"}
			for k, v := range ev.Payload {
				item[k] = v
			}
			output = append(output, item)
		}
		if u, ok := ev.Payload["usage"].(map[string]any); ok {
			usage.InputTokens += intValue(u["input_tokens"])
			usage.OutputTokens += intValue(u["output_tokens"])
			usage.TotalTokens += intValue(u["total_tokens"])
		}
	}

	if text.Len() > 0 {
		output = append(output, map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "output_text", "text": text.String()},
			},
		})
	}

	return &Response{
		ID:        "resp_" + uuid.NewString(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		EntityID:  req.EntityID,
		Output:    output,
		Usage:     usage,
	}
}

// intValue coerces the numeric shapes a payload may carry for token counts.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
