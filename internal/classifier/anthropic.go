package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const decompositionSystemPrompt = `You are a task decomposition engine for an autonomous work orchestrator.
Given a task, split it into 2-7 concrete subtasks that together accomplish it.

Respond with ONLY a JSON object of this shape, no prose:
{
  "subtasks": [
    {
      "description": "what to do",
      "task_type": "milestone|implementation",
      "estimated_complexity": 3.5,
      "dependencies": ["description of a sibling subtask this depends on"],
      "acceptance_criteria": ["observable completion condition"]
    }
  ]
}

Rules:
- estimated_complexity is 0-10; subtasks must be simpler than the parent.
- dependencies may only reference sibling subtasks from this same response.
- Order subtasks so dependencies appear before their dependents.`

// AnthropicClassifier decomposes tasks through the Anthropic Messages
// API. Calls run behind a circuit breaker and retry with exponential
// backoff, so a flapping upstream degrades to fast failures instead of
// stalling the event loop.
type AnthropicClassifier struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	maxRetries  uint64
	maxInterval time.Duration
}

// AnthropicOption adjusts classifier construction.
type AnthropicOption func(*AnthropicClassifier)

// WithModel overrides the default model.
func WithModel(model anthropic.Model) AnthropicOption {
	return func(c *AnthropicClassifier) { c.model = model }
}

// WithMaxRetries overrides the retry budget per decomposition call.
func WithMaxRetries(n uint64) AnthropicOption {
	return func(c *AnthropicClassifier) { c.maxRetries = n }
}

// NewAnthropicClassifier builds a classifier against the Anthropic API.
func NewAnthropicClassifier(apiKey string, log zerolog.Logger, opts ...AnthropicOption) *AnthropicClassifier {
	c := &AnthropicClassifier{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       anthropic.ModelClaudeSonnet4_20250514,
		log:         log,
		maxRetries:  3,
		maxInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "classifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return c
}

// Decompose asks the model to split the task into subtasks. A response
// that is not the expected JSON object counts as a failure.
func (c *AnthropicClassifier) Decompose(ctx context.Context, req Request) (*Response, error) {
	prompt := fmt.Sprintf("Task: %s\nType: %s\nDepth: %d\nEstimated complexity: %.1f\n\nDecompose this task.",
		req.Description, req.TaskType, req.Depth, req.EstimatedComplexity)

	var resp *Response
	operation := func() error {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.call(ctx, prompt)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState {
				return backoff.Permanent(fmt.Errorf("classifier unavailable: %w", err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = result.(*Response)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.maxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("decompose %q: %w", truncate(req.Description, 60), err)
	}
	return resp, nil
}

func (c *AnthropicClassifier) call(ctx context.Context, prompt string) (*Response, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: decompositionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		}
	}
	return ParseResponse(text.String())
}

// ParseResponse extracts the decomposition object from model output.
// Models occasionally wrap JSON in prose or code fences, so the parse
// keys off the outermost braces. A payload without a subtasks list is
// an error.
func ParseResponse(text string) (*Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in classifier response")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse classifier response: %w", err)
	}
	subtasksRaw, ok := raw["subtasks"]
	if !ok {
		return nil, fmt.Errorf("classifier response missing subtasks")
	}

	var resp Response
	if err := json.Unmarshal(subtasksRaw, &resp.Subtasks); err != nil {
		return nil, fmt.Errorf("parse subtasks: %w", err)
	}
	if len(resp.Subtasks) == 0 {
		return nil, fmt.Errorf("classifier returned no subtasks")
	}
	for i, st := range resp.Subtasks {
		if st.Description == "" {
			return nil, fmt.Errorf("subtask %d has no description", i)
		}
	}
	return &resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
