package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Request is the api-request payload. Data holds the JSON body to send, if any.
type Request struct {
	Method string          `json:"method"`
	URL    string          `json:"url"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// NewRequest builds a Request, serializing data once. Absent data (nil or a
// JSON null) produces a request without a body.
func NewRequest(method, url string, data any) (Request, error) {
	req := Request{Method: method, URL: url}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Request{}, fmt.Errorf("encode request data: %w", err)
		}
		req.Data = raw
	}
	return req, req.Validate()
}

// HasBody reports whether the request carries a JSON body.
func (r Request) HasBody() bool {
	trimmed := bytes.TrimSpace(r.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Validate checks the verb and the path shape.
func (r Request) Validate() error {
	if _, ok := methods[strings.ToUpper(r.Method)]; !ok {
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	if !strings.HasPrefix(r.URL, "/") {
		return fmt.Errorf("url must begin with \"/\", got %q", r.URL)
	}
	if strings.HasPrefix(r.URL, "//") {
		return fmt.Errorf("url must be a path, got %q", r.URL)
	}
	if len(r.Data) > 0 && !json.Valid(r.Data) {
		return fmt.Errorf("data is not valid JSON")
	}
	return nil
}
