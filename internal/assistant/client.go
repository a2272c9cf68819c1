// Package assistant drives one-shot conversations with a hosted assistant
// over the threads, messages and runs API.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxPolls     = 120
)

var (
	ErrRunFailed  = errors.New("assistant run failed")
	ErrRunTimeout = errors.New("assistant run timed out")
	ErrNoReply    = errors.New("assistant returned no reply")
)

// Run states reported by the runs endpoint.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	http         *http.Client
	log          *zap.Logger
	// wait pauses between polls; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		http:         cfg.HTTPClient,
		log:          cfg.Logger,
		wait:         sleep,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPolls <= 0 {
		c.maxPolls = DefaultMaxPolls
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// do sends one request and decodes a 2xx JSON response into out. There is
// no retry: any failure ends the conversation.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type object struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Converse opens a thread, posts message, runs assistantID on it and
// returns the assistant's reply text once the run completes.
func (c *Client) Converse(ctx context.Context, assistantID, message string) (string, error) {
	var thread object
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &thread); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/threads/"+thread.ID+"/messages",
		map[string]string{"role": "user", "content": message}, nil); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	var run object
	if err := c.do(ctx, http.MethodPost, "/threads/"+thread.ID+"/runs",
		map[string]string{"assistant_id": assistantID}, &run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	log := c.log.With(zap.String("thread_id", thread.ID), zap.String("run_id", run.ID))
	if err := c.awaitRun(ctx, thread.ID, run.ID, log); err != nil {
		return "", err
	}

	var messages messageList
	if err := c.do(ctx, http.MethodGet, "/threads/"+thread.ID+"/messages", nil, &messages); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	// Messages are listed newest first.
	for _, m := range messages.Data {
		if m.Role != "assistant" {
			continue
		}
		for _, part := range m.Content {
			if part.Type == "text" && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", ErrNoReply
}

// awaitRun polls the run every pollInterval, at most maxPolls times.
func (c *Client) awaitRun(ctx context.Context, threadID, runID string, log *zap.Logger) error {
	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		if err := c.wait(ctx, c.pollInterval); err != nil {
			return err
		}
		var run object
		if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
			return fmt.Errorf("poll run: %w", err)
		}
		switch run.Status {
		case StatusCompleted:
			log.Debug("assistant run completed", zap.Int("polls", attempt))
			return nil
		case StatusFailed, StatusCancelled, StatusExpired:
			return fmt.Errorf("%w: status %s", ErrRunFailed, run.Status)
		}
	}
	log.Warn("assistant run did not complete", zap.Int("polls", c.maxPolls))
	return ErrRunTimeout
}
