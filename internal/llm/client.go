// Package llm invokes OpenAI-compatible chat completion endpoints and wraps
// the bounded-retry policy around them.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/sift/internal/provider"
)

const defaultTimeout = 60 * time.Second

// Message is one chat turn in the wire shape every supported provider
// accepts. Conversations are persisted in exactly this shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client is a thin HTTP client for chat completion endpoints. The target
// endpoint and credential come from the resolved provider config per call,
// so one client serves every configured provider.
type Client struct {
	httpClient *http.Client
	referer    string
	title      string
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		referer:    "https://github.com/kalambet/sift",
		title:      "sift",
	}
}

// transportError marks a failure worth retrying: the request never produced
// a usable response (connection failure or non-2xx status).
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// malformedError marks a 2xx response whose body is not a valid chat
// completion. The provider answered; retrying would not help.
type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// ChatCompletion sends one chat completion request to the resolved target
// and returns the assistant's reply text.
func (c *Client) ChatCompletion(ctx context.Context, target provider.EffectiveConfig, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{Model: target.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(target.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+target.APIKey)
	}
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transportError{err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &transportError{err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &malformedError{err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &malformedError{err: fmt.Errorf("response has no choices")}
	}

	return parsed.Choices[0].Message.Content, nil
}
