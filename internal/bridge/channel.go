// Package bridge defines the fixed vocabulary shared by the isolated renderer
// side and the privileged host: the channel allow-list, the request payload and
// the normalized result returned across the boundary.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
)

// Channel names an operation invocable across the bridge.
type Channel string

const (
	ChannelAPIRequest  Channel = "api-request"
	ChannelHealthCheck Channel = "health-check"
)

// ErrInvalidChannel is the rejection for any channel outside the allow-list.
// The message is part of the contract and must not change.
var ErrInvalidChannel = errors.New("Invalid channel")

// allowed is read-only after package initialization.
var allowed = map[Channel]struct{}{
	ChannelAPIRequest:  {},
	ChannelHealthCheck: {},
}

// Lookup validates name against the allow-list.
func Lookup(name string) (Channel, error) {
	ch := Channel(name)
	if _, ok := allowed[ch]; !ok {
		return "", ErrInvalidChannel
	}
	return ch, nil
}

// Channels returns the allow-list in a stable order.
func Channels() []Channel {
	return []Channel{ChannelAPIRequest, ChannelHealthCheck}
}

func (c Channel) String() string { return string(c) }

// Handler is implemented by the privileged side. It receives the channel and
// the verbatim JSON payload and always answers with a Result.
type Handler interface {
	Handle(ctx context.Context, ch Channel, payload json.RawMessage) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ch Channel, payload json.RawMessage) Result

func (f HandlerFunc) Handle(ctx context.Context, ch Channel, payload json.RawMessage) Result {
	return f(ctx, ch, payload)
}
