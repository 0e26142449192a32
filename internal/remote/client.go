// Package remote talks to the topic service over its JSON REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"speakdrill/internal/domain"
	"speakdrill/internal/ports"
)

const maxErrorBody = 4 << 10

var ErrMissingBaseURL = errors.New("remote base URL is not configured")

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Config controls the topic service client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.TopicService.
type Client struct {
	base   *url.URL
	tokens ports.TokenSource
	http   *http.Client
}

func NewClient(cfg Config, tokens ports.TokenSource) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, tokens: tokens, http: httpClient}, nil
}

type titleBody struct {
	Title string `json:"title"`
}

func (c *Client) List(ctx context.Context) ([]domain.Topic, error) {
	var topics []domain.Topic
	if err := c.do(ctx, http.MethodGet, "/topics", nil, nil, &topics); err != nil {
		return nil, err
	}
	for i := range topics {
		normalizeTopic(&topics[i])
	}
	return topics, nil
}

func (c *Client) Create(ctx context.Context, title string) (domain.Topic, error) {
	var topic domain.Topic
	if err := c.do(ctx, http.MethodPost, "/topics", nil, titleBody{Title: title}, &topic); err != nil {
		return domain.Topic{}, err
	}
	normalizeTopic(&topic)
	return topic, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/topics/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Update(ctx context.Context, id string, title string) (domain.Topic, error) {
	var topic domain.Topic
	if err := c.do(ctx, http.MethodPatch, "/topics/"+url.PathEscape(id), nil, titleBody{Title: title}, &topic); err != nil {
		return domain.Topic{}, err
	}
	normalizeTopic(&topic)
	return topic, nil
}

// AppendSession posts the session keyed by its client id so a resend is not duplicated.
func (c *Client) AppendSession(ctx context.Context, topicID string, session domain.Session) (domain.Session, error) {
	headers := http.Header{}
	if session.ID != "" {
		headers.Set("Idempotency-Key", session.ID)
	}
	outgoing := session.Clone()
	outgoing.Sync = ""

	var stored domain.Session
	path := "/topics/" + url.PathEscape(topicID) + "/sessions"
	if err := c.do(ctx, http.MethodPost, path, headers, outgoing, &stored); err != nil {
		return domain.Session{}, err
	}
	stored.Analysis = domain.NewAnalysisResult(stored.Analysis.Valid, stored.Analysis.Corrections, stored.Analysis.Missing)
	return stored, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, ports.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func normalizeTopic(topic *domain.Topic) {
	if topic.Sessions == nil {
		topic.Sessions = []domain.Session{}
	}
	for i := range topic.Sessions {
		session := &topic.Sessions[i]
		session.Analysis = domain.NewAnalysisResult(session.Analysis.Valid, session.Analysis.Corrections, session.Analysis.Missing)
		session.Sync = domain.SyncStatusSynced
	}
}
