package realtime

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

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the provider's REST root. The stream URL is derived
	// from it by swapping the scheme to wss.
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultAcceptTimeout = 10 * time.Second
	defaultDialTimeout   = 15 * time.Second

	errorBodySnippetLimit = 512
)

// AcceptPayload is the session configuration sent when answering a call.
// The accept endpoint rejects unknown fields, so this struct carries only
// what it tolerates; everything else goes through SendSessionUpdate once
// the stream is open.
type AcceptPayload struct {
	Type         string       `json:"type"`
	Model        string       `json:"model"`
	Instructions string       `json:"instructions,omitempty"`
	Audio        *AudioConfig `json:"audio,omitempty"`
}

type AudioConfig struct {
	Input AudioInputConfig `json:"input"`
}

type AudioInputConfig struct {
	Transcription TranscriptionConfig `json:"transcription"`
}

// TranscriptionConfig turns on caller-side speech transcription.
type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// Client talks to the provider's realtime call API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

type Option func(*Client)

// WithBaseURL points the client at a different API root, typically a test
// server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultAcceptTimeout},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcceptCall answers an incoming call with the given session configuration.
// The provider holds the call until this returns, so callers should bound
// ctx.
func (c *Client) AcceptCall(ctx context.Context, callID string, payload AcceptPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal accept payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/realtime/calls/%s/accept", c.baseURL, url.PathEscape(callID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build accept request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("accept call %s: %w", callID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("accept call %s: status %d: %s", callID, resp.StatusCode, readSnippet(resp.Body))
	}
	return nil
}

// OpenStream dials the event stream for an accepted call. When ctx carries
// no deadline a default dial timeout applies.
func (c *Client) OpenStream(ctx context.Context, callID string) (*Stream, error) {
	wsURL, err := c.websocketURL(callID)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stream for call %s (status %d): %w", callID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial stream for call %s: %w", callID, err)
	}
	return newStream(conn), nil
}

func (c *Client) websocketURL(callID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime"
	q := u.Query()
	q.Set("call_id", callID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, errorBodySnippetLimit))
	if err != nil || len(data) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(data))
}
