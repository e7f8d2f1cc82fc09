// Package host implements the privileged side of the bridge. It owns the only
// outbound HTTP client, performs backend calls on behalf of the renderer and
// normalizes every outcome into a bridge.Result.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rehab/wardshell/internal/bridge"
)

// DefaultBackendURL is the loopback address of the backend service.
const DefaultBackendURL = "http://127.0.0.1:8000"

// HealthPath is the backend health endpoint.
const HealthPath = "/health"

// BackendDownMessage is returned by health-check when the backend cannot be reached.
const BackendDownMessage = "backend service not started, run the backend entry point first"

// Option configures a Host.
type Option func(*Host)

// WithHTTPClient overrides the outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Host) { h.client = c }
}

// WithLogger sets the logger used for transport failures.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// Host proxies bridge channels to the backend. The base address is fixed at
// construction.
type Host struct {
	base   *url.URL
	client *http.Client
	logger zerolog.Logger
}

// New creates a Host for the backend at baseURL. No timeout is set on the
// default client; callers bound calls through ctx.
func New(baseURL string, opts ...Option) (*Host, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http(s), got %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend url has no host: %q", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	h := &Host{
		base:   u,
		client: &http.Client{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// BaseURL returns the backend base address.
func (h *Host) BaseURL() string { return h.base.String() }

// Handle implements bridge.Handler. Unknown channels never reach the network.
func (h *Host) Handle(ctx context.Context, ch bridge.Channel, payload json.RawMessage) bridge.Result {
	switch ch {
	case bridge.ChannelAPIRequest:
		var req bridge.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return bridge.FailMessage("invalid request: "+err.Error(), 0)
		}
		return h.APIRequest(ctx, req)
	case bridge.ChannelHealthCheck:
		return h.HealthCheck(ctx)
	default:
		return bridge.FailMessage(bridge.ErrInvalidChannel.Error(), 0)
	}
}

// APIRequest issues req against the backend. It never returns a raw error:
// transport failures, non-2xx statuses and unparseable bodies all become
// failure results.
func (h *Host) APIRequest(ctx context.Context, req bridge.Request) bridge.Result {
	if err := req.Validate(); err != nil {
		return bridge.FailMessage("invalid request: "+err.Error(), 0)
	}

	var body io.Reader
	if req.HasBody() {
		body = bytes.NewReader(req.Data)
	}

	target := h.resolve(req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), target, body)
	if err != nil {
		return bridge.FailMessage(err.Error(), 0)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Error().Err(err).
			Str("method", httpReq.Method).
			Str("url", req.URL).
			Msg("api request failed")
		return bridge.FailMessage(err.Error(), 0)
	}
	defer resp.Body.Close()

	parsed, isJSON, err := readBody(resp)
	if err != nil {
		h.logger.Error().Err(err).
			Str("method", httpReq.Method).
			Str("url", req.URL).
			Int("status", resp.StatusCode).
			Msg("api response unreadable")
		return bridge.FailMessage(err.Error(), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return bridge.Fail(errorValue(parsed, isJSON), resp.StatusCode)
	}
	return bridge.Succeed(parsed)
}

// HealthCheck calls the backend health endpoint.
func (h *Host) HealthCheck(ctx context.Context) bridge.Result {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.resolve(HealthPath), nil)
	if err != nil {
		return bridge.FailMessage(BackendDownMessage, 0)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Warn().Err(err).Msg("backend health check failed")
		return bridge.FailMessage(BackendDownMessage, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.logger.Warn().Int("status", resp.StatusCode).Msg("backend unhealthy")
		return bridge.FailMessage(BackendDownMessage, 0)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil || !json.Valid(raw) {
		h.logger.Warn().Msg("backend health response is not JSON")
		return bridge.FailMessage(BackendDownMessage, 0)
	}
	return bridge.Succeed(raw)
}

// resolve joins path (which may carry a query) onto the base address.
func (h *Host) resolve(path string) string {
	return h.base.String() + path
}

// readBody parses the body as JSON when declared as application/json and
// returns it as a JSON string otherwise.
func readBody(resp *http.Response) (json.RawMessage, bool, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response body: %w", err)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/json") {
		if !json.Valid(raw) {
			return nil, true, fmt.Errorf("invalid JSON in response body")
		}
		return raw, true, nil
	}

	text, _ := json.Marshal(string(raw))
	return text, false, nil
}

// errorValue extracts the backend's detail field when present and truthy,
// falling back to the whole body.
func errorValue(body json.RawMessage, isJSON bool) json.RawMessage {
	if !isJSON {
		return body
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	detail, ok := obj["detail"]
	if !ok || !truthy(detail) {
		return body
	}
	return detail
}

func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", `""`, "0", "0.0", "-0":
		return false
	}
	return true
}
