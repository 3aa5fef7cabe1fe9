package agent

import (
	"context"
	"errors"
	"time"

	"github.com/lexforge/lexforge/internal/provider"
	"go.uber.org/zap"
)

// Sink receives text fragments during a streamed invocation, in production
// order. It is called from the invoking goroutine only.
type Sink func(fragment string)

// Client invokes one agent role per call through the provider router.
// It holds no per-run state; every call produces a fresh Run.
type Client struct {
	router *provider.Router
	logger *zap.Logger
}

// NewClient creates an agent client backed by the given router.
func NewClient(router *provider.Router, logger *zap.Logger) *Client {
	return &Client{router: router, logger: logger}
}

// Invoke runs one completion for the given role. When sink is nil the call
// blocks until the full text is available; otherwise fragments are pushed to
// sink as they arrive. The outcome is carried on the returned Run's status —
// invocation failures are data, not errors, so the caller can treat reviewer
// failures as degradation rather than control flow.
//
// Once the Run reaches a terminal status no further fragment is delivered:
// the consuming loop below is the only sink caller, and it returns before
// marking the run terminal.
func (c *Client) Invoke(ctx context.Context, role Role, system, prompt string, sink Sink) *Run {
	run := &Run{
		Role:           role,
		Status:         StatusThinking,
		ThinkStartedAt: time.Now(),
	}

	prov, binding, err := c.router.Resolve(string(role))
	if err != nil {
		c.finish(run, StatusFailed, ErrKindInvocation, err)
		return run
	}

	if binding.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, binding.Timeout)
		defer cancel()
	}

	req := &provider.CompletionRequest{
		Model:     binding.Model,
		System:    system,
		Prompt:    prompt,
		MaxTokens: binding.MaxTokens,
	}

	if sink == nil {
		c.invokeBlocking(ctx, prov, binding, req, run)
	} else {
		c.invokeStreaming(ctx, prov, binding, req, run, sink)
	}

	c.logger.Debug("agent invocation finished",
		zap.String("role", string(role)),
		zap.String("status", string(run.Status)),
		zap.Duration("elapsed", run.Elapsed()),
		zap.Int("tokens", run.Usage.TotalTokens))
	return run
}

func (c *Client) invokeBlocking(ctx context.Context, prov provider.Provider, binding provider.Binding, req *provider.CompletionRequest, run *Run) {
	resp, err := prov.Complete(ctx, req)
	if err != nil {
		c.finish(run, statusForContext(ctx), kindForContext(ctx), err)
		return
	}
	now := time.Now()
	run.FirstTokenAt = &now
	run.Text = resp.Content
	run.Usage = resp.Usage
	run.Cost = c.router.EstimateCost(binding.ProviderID, binding.Model, resp.Usage)
	c.finish(run, StatusDone, ErrKindNone, nil)
}

func (c *Client) invokeStreaming(ctx context.Context, prov provider.Provider, binding provider.Binding, req *provider.CompletionRequest, run *Run, sink Sink) {
	ch, err := prov.Stream(ctx, req)
	if err != nil {
		c.finish(run, statusForContext(ctx), kindForContext(ctx), err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.finish(run, statusForContext(ctx), kindForContext(ctx), ctx.Err())
			return
		case chunk, ok := <-ch:
			if !ok {
				// Stream ended without a done marker: the connection dropped.
				c.finish(run, statusForContext(ctx), kindForContext(ctx),
					errors.New("stream closed before completion"))
				return
			}
			if chunk.Content != "" {
				if run.FirstTokenAt == nil {
					now := time.Now()
					run.FirstTokenAt = &now
					run.Status = StatusStreaming
				}
				run.Text += chunk.Content
				sink(chunk.Content)
			}
			if chunk.Done {
				if chunk.Usage != nil {
					run.Usage = *chunk.Usage
					run.Cost = c.router.EstimateCost(binding.ProviderID, binding.Model, *chunk.Usage)
				}
				c.finish(run, StatusDone, ErrKindNone, nil)
				return
			}
		}
	}
}

func (c *Client) finish(run *Run, status Status, kind ErrorKind, err error) {
	now := time.Now()
	run.CompletedAt = &now
	run.Status = status
	run.ErrKind = kind
	if err != nil {
		run.Err = err.Error()
	}
}

// statusForContext maps a context state to the terminal status of an
// invocation that failed while the context was live, timed out, or cancelled.
func statusForContext(ctx context.Context) Status {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusFailed
	}
}

func kindForContext(ctx context.Context) ErrorKind {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrKindCancelled
	default:
		return ErrKindInvocation
	}
}
