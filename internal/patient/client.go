package patient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rehab/wardshell/internal/bridge"
)

// BasePath is the backend collection path.
const BasePath = "/api/patients/"

// ErrNotFound matches a BackendError with status 404.
var ErrNotFound = errors.New("patient not found")

// Invoker is the subset of the gate the client needs.
type Invoker interface {
	APIRequest(ctx context.Context, method, url string, data any) bridge.Result
}

// BackendError is a failed bridge result surfaced to Go callers.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *BackendError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client calls the backend patient endpoints through the gate and decodes
// each response into its resource type.
type Client struct {
	gate Invoker
}

func NewClient(gate Invoker) *Client {
	return &Client{gate: gate}
}

func (c *Client) List(ctx context.Context, opts ListOptions) ([]Patient, error) {
	q := url.Values{}
	if opts.IncludeDischarged {
		q.Set("include_discharged", "true")
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	path := BasePath
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []Patient
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Patient{}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, hospitalNumber string) (*Patient, error) {
	if hospitalNumber == "" {
		return nil, fmt.Errorf("hospital number is required")
	}
	var p Patient
	if err := c.do(ctx, http.MethodGet, itemPath(hospitalNumber), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var p Patient
	if err := c.do(ctx, http.MethodPost, BasePath, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Update(ctx context.Context, hospitalNumber string, req UpdateRequest) (*Patient, error) {
	if hospitalNumber == "" {
		return nil, fmt.Errorf("hospital number is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var p Patient
	if err := c.do(ctx, http.MethodPut, itemPath(hospitalNumber), req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Discharge soft-deletes the patient by setting today's discharge date.
func (c *Client) Discharge(ctx context.Context, hospitalNumber string) (*DischargeReceipt, error) {
	if hospitalNumber == "" {
		return nil, fmt.Errorf("hospital number is required")
	}
	var r DischargeReceipt
	if err := c.do(ctx, http.MethodDelete, itemPath(hospitalNumber), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, data any, out any) error {
	res := c.gate.APIRequest(ctx, method, path, data)
	if !res.OK() {
		return &BackendError{Status: res.Status, Message: res.ErrorMessage()}
	}
	if err := res.Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func itemPath(hospitalNumber string) string {
	return "/api/patients/" + url.PathEscape(hospitalNumber)
}
