// Package sfu talks to the external Selective Forwarding Unit over its HTTP
// API. The server never touches media; only session metadata and SDP blobs
// pass through here.
package sfu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds every SFU request.
const DefaultTimeout = 30 * time.Second

// Client is the abstract SFU interface the orchestrator composes. All
// operations honour ctx and the configured request timeout.
type Client interface {
	// CreateSession posts the sender's offer and returns the SFU session id
	// and answer SDP.
	CreateSession(ctx context.Context, offerSDP string) (*SessionResponse, error)
	// AddTracks adds or subscribes tracks on an existing session. offerSDP
	// is optional ("" to omit).
	AddTracks(ctx context.Context, sessionID string, tracks []Track, offerSDP string) (*TracksResponse, error)
	// SendAnswerSDP completes a renegotiation started by AddTracks.
	SendAnswerSDP(ctx context.Context, sessionID, answerSDP string) error
	// TerminateSession tears the session down. A non-success status is
	// logged and treated as success: the session may already be gone.
	TerminateSession(ctx context.Context, sessionID string) error
	// GetSession fetches the raw session state for diagnostics.
	GetSession(ctx context.Context, sessionID string) (json.RawMessage, error)
	// ValidateCredentials checks the app credentials against the SFU.
	ValidateCredentials(ctx context.Context) (bool, error)
}

// APIError is returned for non-success SFU responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sfu api error: status %d: %s", e.StatusCode, e.Body)
}

// CloudflareClient implements Client against the Cloudflare Realtime API.
type CloudflareClient struct {
	appID     string
	appSecret string
	baseURL   string
	http      *http.Client
	logger    *slog.Logger
}

// NewCloudflareClient creates a client for the given app. timeout of 0 uses
// DefaultTimeout.
func NewCloudflareClient(appID, appSecret, baseURL string, timeout time.Duration, logger *slog.Logger) *CloudflareClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CloudflareClient{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.With("component", "sfu"),
	}
}

func (c *CloudflareClient) CreateSession(ctx context.Context, offerSDP string) (*SessionResponse, error) {
	url := fmt.Sprintf("%s/apps/%s/sessions/new", c.baseURL, c.appID)
	body := map[string]any{
		"sessionDescription": SessionDescription{Type: "offer", SDP: offerSDP},
	}

	var result SessionResponse
	if err := c.do(ctx, http.MethodPost, url, body, &result); err != nil {
		return nil, err
	}
	c.logger.Info("created SFU session", "session_id", result.SessionID)
	return &result, nil
}

func (c *CloudflareClient) AddTracks(ctx context.Context, sessionID string, tracks []Track, offerSDP string) (*TracksResponse, error) {
	url := fmt.Sprintf("%s/apps/%s/sessions/%s/tracks/new", c.baseURL, c.appID, sessionID)
	body := map[string]any{"tracks": tracks}
	if offerSDP != "" {
		body["sessionDescription"] = SessionDescription{Type: "offer", SDP: offerSDP}
	}

	var result TracksResponse
	if err := c.do(ctx, http.MethodPost, url, body, &result); err != nil {
		return nil, err
	}
	c.logger.Info("added tracks to SFU session", "session_id", sessionID, "tracks", len(tracks))
	return &result, nil
}

func (c *CloudflareClient) SendAnswerSDP(ctx context.Context, sessionID, answerSDP string) error {
	url := fmt.Sprintf("%s/apps/%s/sessions/%s/renegotiate", c.baseURL, c.appID, sessionID)
	body := map[string]any{
		"sessionDescription": SessionDescription{Type: "answer", SDP: answerSDP},
	}
	if err := c.do(ctx, http.MethodPut, url, body, nil); err != nil {
		return err
	}
	c.logger.Info("sent answer SDP to SFU session", "session_id", sessionID)
	return nil
}

func (c *CloudflareClient) TerminateSession(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/apps/%s/sessions/%s", c.baseURL, c.appID, sessionID)
	if err := c.do(ctx, http.MethodDelete, url, nil, nil); err != nil {
		// The session may already be gone on the SFU side.
		c.logger.Warn("SFU session termination failed", "session_id", sessionID, "error", err)
		return nil
	}
	c.logger.Info("terminated SFU session", "session_id", sessionID)
	return nil
}

func (c *CloudflareClient) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/apps/%s/sessions/%s", c.baseURL, c.appID, sessionID)
	var result json.RawMessage
	if err := c.do(ctx, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *CloudflareClient) ValidateCredentials(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/apps/%s", c.baseURL, c.appID)
	err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *CloudflareClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.appSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sfu request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
