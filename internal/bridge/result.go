package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// NetworkFailureMessage is used when a transport error carries no message.
const NetworkFailureMessage = "network request failed"

// Result is the normalized outcome of a bridge call. Exactly one variant is
// populated: on success Data holds the body (JSON, or a JSON string for text
// bodies); on failure Error holds a string or JSON value and Status the HTTP
// status when one was received.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Status  int             `json:"status,omitempty"`
}

// Succeed builds a success result. An empty body becomes JSON null.
func Succeed(data json.RawMessage) Result {
	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("null")
	}
	return Result{Success: true, Data: data}
}

// SucceedText builds a success result for a non-JSON body.
func SucceedText(text string) Result {
	return Result{Success: true, Data: quote(text)}
}

// Fail builds a failure carrying a JSON error value.
func Fail(errValue json.RawMessage, status int) Result {
	if len(bytes.TrimSpace(errValue)) == 0 {
		errValue = quote(NetworkFailureMessage)
	}
	return Result{Error: errValue, Status: status}
}

// FailMessage builds a failure carrying a plain string.
func FailMessage(msg string, status int) Result {
	if msg == "" {
		msg = NetworkFailureMessage
	}
	return Result{Error: quote(msg), Status: status}
}

// OK reports whether the result is the success variant.
func (r Result) OK() bool { return r.Success }

// Decode unmarshals the success payload into v.
func (r Result) Decode(v any) error {
	if !r.Success {
		return r.Err()
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode result data: %w", err)
	}
	return nil
}

// Text returns the success payload as text: the string itself when the body
// was text, the raw JSON otherwise.
func (r Result) Text() string {
	return rawText(r.Data)
}

// ErrorMessage returns the failure reason as a string. Structured errors are
// returned as their JSON encoding.
func (r Result) ErrorMessage() string {
	if r.Success {
		return ""
	}
	return rawText(r.Error)
}

// Err returns nil for success and a *Failure otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Failure{Message: r.ErrorMessage(), Status: r.Status, Detail: r.Error}
}

// Validate checks the variant invariant. It is applied to results arriving
// over a transport before they are handed to callers.
func (r Result) Validate() error {
	if r.Success {
		if len(r.Error) > 0 || r.Status != 0 {
			return errors.New("success result carries failure fields")
		}
		if len(r.Data) == 0 {
			return errors.New("success result has no data")
		}
		return nil
	}
	if len(r.Data) > 0 {
		return errors.New("failure result carries data")
	}
	if len(r.Error) == 0 {
		return errors.New("failure result has no error")
	}
	return nil
}

// Failure is the error form of a failed Result.
type Failure struct {
	Message string
	Status  int
	Detail  json.RawMessage
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("backend returned %d: %s", f.Status, f.Message)
	}
	return f.Message
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
