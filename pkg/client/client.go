// Package client is a Go client for the autodeploy HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/api"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/version"
)

// maxRetryTime is the maximum time to retry a request on network errors.
const maxRetryTime = 10 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("autodeploy API: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one autodeploy server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	newBackoff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client used as-is, without retries.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryBackoff sets the backoff policy for network errors.
func WithRetryBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = newBackoff }
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxInterval(1*time.Second),
				backoff.WithMaxElapsedTime(maxRetryTime),
			)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &retryRoundTripper{base: http.DefaultTransport, newBackoff: c.newBackoff},
		}
	}
	return c, nil
}

// retryRoundTripper retries requests on transient network errors.
type retryRoundTripper struct {
	base       http.RoundTripper
	newBackoff func() backoff.BackOff
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	first := true
	attempt := func() (*http.Response, error) {
		r := req
		if !first {
			if req.Body != nil && req.GetBody == nil {
				return nil, backoff.Permanent(errors.New("request body cannot be replayed"))
			}
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, backoff.Permanent(err)
				}
				r.Body = body
			}
		}
		first = false

		resp, err := rt.base.RoundTrip(r)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) {
				slog.Debug("Retrying autodeploy request due to network error", "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}
	boff := backoff.WithContext(rt.newBackoff(), req.Context())
	return backoff.RetryWithData(attempt, boff)
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.Full())
	return req, nil
}

// do sends a request and decodes a JSON response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func sessionPath(id string, parts ...string) string {
	p := "/api/v1/sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// CreateSession creates a new session.
func (c *Client) CreateSession(ctx context.Context) (*api.SessionResponse, error) {
	var out api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions lists the sessions hosted by the server.
func (c *Client) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	var out api.SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession returns one session with its current steps.
func (c *Client) GetSession(ctx context.Context, id string) (*api.SessionResponse, error) {
	var out api.SessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession deletes a session, cancelling its active run.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil, nil)
}

// Submit starts a run for text. A 409 APIError means a run is already active.
func (c *Client) Submit(ctx context.Context, id, text string) (*api.SubmitMessageResponse, error) {
	var out api.SubmitMessageResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "messages"), nil, api.SubmitMessageRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel cancels the active run. A 409 APIError means nothing is running.
func (c *Client) Cancel(ctx context.Context, id string) (*api.CancelResponse, error) {
	var out api.CancelResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "cancel"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Steps returns the current step list of a session.
func (c *Client) Steps(ctx context.Context, id string) (*api.StepsResponse, error) {
	var out api.StepsResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "steps"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Entries returns the timeline entries after since.
func (c *Client) Entries(ctx context.Context, id string, since uint64) (*api.EntriesResponse, error) {
	q := url.Values{}
	if since > 0 {
		q.Set("since", strconv.FormatUint(since, 10))
	}
	var out api.EntriesResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "entries"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Runs returns the stored runs of a session, newest first.
func (c *Client) Runs(ctx context.Context, id string, limit int) ([]models.Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out api.RunListResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "runs"), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Run returns a stored run with its step transitions and entries.
func (c *Client) Run(ctx context.Context, runID string) (*api.RunDetailResponse, error) {
	var out api.RunDetailResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pipeline returns the configured step list.
func (c *Client) Pipeline(ctx context.Context) (*api.PipelineResponse, error) {
	var out api.PipelineResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/pipeline", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the server health. An unhealthy server answers 503 with
// the same body, which is returned together with the APIError.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, &APIError{StatusCode: resp.StatusCode, Message: out.Status}
	}
	return &out, nil
}
