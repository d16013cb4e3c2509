// Package notesapi talks to the notes REST API. It backs autosave and the
// reconnect preconditions of the connection manager.
package notesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"
	"inkdown-collab/pkg/response"

	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

func NewClient(httpClient *http.Client, baseURL, token string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		logger:     logging.OrNop(logger).Named("notesapi"),
	}
}

func (c *Client) Create(ctx context.Context, note domain.Note) (*domain.Note, error) {
	req := domain.CreateNoteRequest{Title: note.Title, Content: note.Content}
	var out domain.NoteResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/notes", c.token, req, &out); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	saved := out.ToNote()
	return &saved, nil
}

// Update replaces title and content whole.
func (c *Client) Update(ctx context.Context, id string, note domain.Note) (*domain.Note, error) {
	title, content := note.Title, note.Content
	req := domain.UpdateNoteRequest{Title: &title, Content: &content}
	var out domain.NoteResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/notes/"+url.PathEscape(id), c.token, req, &out); err != nil {
		return nil, fmt.Errorf("failed to update note %s: %w", id, err)
	}
	saved := out.ToNote()
	return &saved, nil
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Note, error) {
	var out domain.NoteResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/notes/"+url.PathEscape(id), c.token, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	note := out.ToNote()
	return &note, nil
}

// CheckServer probes the health endpoint.
func (c *Client) CheckServer(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", "", nil, nil); err != nil {
		return fmt.Errorf("server unavailable: %w", err)
	}
	return nil
}

// VerifyCredential asks the server whether credential is still accepted.
func (c *Client) VerifyCredential(ctx context.Context, credential string) error {
	var out validateResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/validate-token", credential, nil, &out); err != nil {
		return fmt.Errorf("credential rejected: %w", err)
	}
	if !out.Valid {
		return fmt.Errorf("credential rejected: %w", ErrUnauthorized)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env response.Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(env.Error)
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("failed to decode response: empty data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
