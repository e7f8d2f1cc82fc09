package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rehab/wardshell/internal/bridge"
	"github.com/rehab/wardshell/internal/platform/auth"
)

// TokenSource yields the bearer session token for the next call.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource for a fixed token.
func StaticToken(tok string) TokenSource {
	return func() (string, error) { return tok, nil }
}

// FileToken reads the token a running host published at path. The file is
// re-read on every call so a refreshed token is picked up.
func FileToken(path string) TokenSource {
	return func() (string, error) { return auth.ReadTokenFile(path) }
}

// IPCOption configures an IPCTransport.
type IPCOption func(*IPCTransport)

// WithIPCClient overrides the HTTP client used to reach the host.
func WithIPCClient(c *http.Client) IPCOption {
	return func(t *IPCTransport) { t.client = c }
}

// WithIPCLogger sets the transport logger.
func WithIPCLogger(l zerolog.Logger) IPCOption {
	return func(t *IPCTransport) { t.logger = l }
}

// IPCTransport carries bridge calls to a host running in another process.
// It implements bridge.Handler, so a Gate cannot tell it from an in-process
// host.
type IPCTransport struct {
	endpoint string
	tokens   TokenSource
	client   *http.Client
	logger   zerolog.Logger
}

// NewIPCTransport targets the host IPC endpoint at addr (host:port or URL).
func NewIPCTransport(addr string, tokens TokenSource, opts ...IPCOption) *IPCTransport {
	endpoint := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	t := &IPCTransport{
		endpoint: endpoint,
		tokens:   tokens,
		client:   &http.Client{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle posts payload to the host and returns its result. Failures to reach
// the host, rejected calls and malformed responses all come back as failure
// results.
func (t *IPCTransport) Handle(ctx context.Context, ch bridge.Channel, payload json.RawMessage) bridge.Result {
	token, err := t.tokens()
	if err != nil {
		return bridge.FailMessage("host unavailable: session token: "+err.Error(), 0)
	}

	var body io.Reader = http.NoBody
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/ipc/"+ch.String(), body)
	if err != nil {
		return bridge.FailMessage("host unavailable: "+err.Error(), 0)
	}
	rid := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", rid)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error().Err(err).Str("request_id", rid).Str("channel", ch.String()).Msg("host unreachable")
		return bridge.FailMessage("host unavailable: "+err.Error(), 0)
	}
	defer resp.Body.Close()

	var res bridge.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return bridge.FailMessage(fmt.Sprintf("malformed host response (%d): %v", resp.StatusCode, err), 0)
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn().Str("request_id", rid).Int("status", resp.StatusCode).Str("channel", ch.String()).Msg("host rejected call")
		return bridge.FailMessage("host rejected call: "+res.ErrorMessage(), 0)
	}
	if err := res.Validate(); err != nil {
		return bridge.FailMessage("malformed host response: "+err.Error(), 0)
	}
	return res
}
