// Package gate is the only conduit from the isolated renderer side to the
// privileged host. It exposes invoke plus two convenience wrappers and nothing
// else: no sockets, no files, no handle on the host itself.
package gate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rehab/wardshell/internal/bridge"
)

// Gate validates channels against the allow-list before forwarding.
type Gate struct {
	host bridge.Handler
}

// New returns a Gate forwarding to host, which is normally a transport.
func New(host bridge.Handler) *Gate {
	return &Gate{host: host}
}

// Invoke forwards args to channel and returns the host's result unchanged.
// An unknown channel yields bridge.ErrInvalidChannel without any
// cross-process call.
func (g *Gate) Invoke(ctx context.Context, channel string, args ...any) (bridge.Result, error) {
	ch, err := bridge.Lookup(channel)
	if err != nil {
		return bridge.Result{}, err
	}
	payload, err := encodeArgs(args)
	if err != nil {
		return bridge.Result{}, err
	}
	return g.host.Handle(ctx, ch, payload), nil
}

// APIRequest sends {method, url, data} over the api-request channel.
func (g *Gate) APIRequest(ctx context.Context, method, url string, data any) bridge.Result {
	req := bridge.Request{Method: method, URL: url}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return bridge.FailMessage("invalid request: "+err.Error(), 0)
		}
		req.Data = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return bridge.FailMessage("invalid request: "+err.Error(), 0)
	}
	return g.host.Handle(ctx, bridge.ChannelAPIRequest, payload)
}

// HealthCheck asks the host whether the backend is up.
func (g *Gate) HealthCheck(ctx context.Context) bridge.Result {
	return g.host.Handle(ctx, bridge.ChannelHealthCheck, nil)
}

func encodeArgs(args []any) (json.RawMessage, error) {
	var v any
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		if raw, ok := args[0].(json.RawMessage); ok {
			return raw, nil
		}
		v = args[0]
	default:
		v = args
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode invoke arguments: %w", err)
	}
	return raw, nil
}
