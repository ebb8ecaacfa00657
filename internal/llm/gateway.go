package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/sift/internal/provider"
)

const (
	maxAttempts    = 3
	defaultBackoff = time.Second
)

// Kind classifies gateway failures for callers that map them to HTTP or
// tool errors.
type Kind string

const (
	// ProviderUnavailable means every attempt failed to produce a usable
	// response (transport failures or error statuses).
	ProviderUnavailable Kind = "provider_unavailable"
	// MalformedResponse means the provider answered successfully but the
	// body was not a valid chat completion. Not retried.
	MalformedResponse Kind = "malformed_response"
)

// Error is a classified invocation failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm invocation (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver yields the effective provider settings for a task.
type Resolver interface {
	Resolve(task string) (provider.EffectiveConfig, error)
}

// Gateway is the single entry point for model invocations. It resolves the
// provider per call and applies the retry policy: up to maxAttempts tries
// with a fixed pause between them, retrying only transport-level failures.
type Gateway struct {
	resolver Resolver
	client   *Client

	// backoff is settable so tests don't sleep.
	backoff time.Duration
}

func NewGateway(resolver Resolver, client *Client) *Gateway {
	return &Gateway{resolver: resolver, client: client, backoff: defaultBackoff}
}

// Invoke resolves the provider for task, sends the messages, and returns
// the assistant reply. Configuration defects propagate as
// *provider.ConfigError; invocation failures as *Error.
func (g *Gateway) Invoke(ctx context.Context, task string, messages []Message) (string, error) {
	target, err := g.resolver.Resolve(task)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &Error{Kind: ProviderUnavailable, Err: ctx.Err()}
			case <-time.After(g.backoff):
			}
		}

		reply, err := g.client.ChatCompletion(ctx, target, messages)
		if err == nil {
			return reply, nil
		}

		var malformed *malformedError
		if errors.As(err, &malformed) {
			return "", &Error{Kind: MalformedResponse, Err: err}
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return "", &Error{Kind: ProviderUnavailable, Err: fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)}
}
