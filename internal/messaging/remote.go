package messaging

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

	"horse.fit/glint/internal/auth"
)

// Remote talks to a scheduler behind the HTTP API.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemote builds a messenger for baseURL (for example http://127.0.0.1:8095).
// A non-empty token is sent as a bearer credential.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (r *Remote) Send(ctx context.Context, msg Message, deliver func(Reply)) {
	go func() {
		var reply Reply
		err := r.call(ctx, http.MethodPost, "/api/v1/translate", msg, &reply)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			reply = Reply{ID: msg.ID, Text: msg.Text, Error: err.Error()}
		}
		reply.ID = msg.ID
		deliver(reply)
	}()
}

func (r *Remote) Interrupt(ctx context.Context) {
	// best effort: the scheduler may already be gone
	_ = r.call(ctx, http.MethodPost, "/api/v1/interrupt", nil, nil)
}

// TranslateBatch sends messages in one request and returns replies in order.
func (r *Remote) TranslateBatch(ctx context.Context, msgs []Message) ([]Reply, error) {
	var out struct {
		Items []Reply `json:"items"`
	}
	if err := r.call(ctx, http.MethodPost, "/api/v1/translate/batch", map[string]any{"items": msgs}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Health checks the remote API.
func (r *Remote) Health(ctx context.Context) error {
	return r.call(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// SetConcurrency updates the remote scheduler's limit.
func (r *Remote) SetConcurrency(ctx context.Context, limit int) error {
	return r.call(ctx, http.MethodPut, "/api/v1/concurrency", map[string]int{"limit": limit}, nil)
}

func (r *Remote) call(ctx context.Context, method, path string, in, out any) error {
	if r == nil || r.baseURL == "" {
		return errors.New("remote scheduler url is not configured")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth.SetBearer(req, r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s status %d: decode response: %w", path, resp.StatusCode, err)
	}
	if env.Status != "success" {
		message := strings.TrimSpace(env.Message)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s status %d: %s", path, resp.StatusCode, message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	return nil
}
