// Package transport is the injection point through which the funnel talks to
// the network. Callers supply a Transport; the default is Noop so nothing is
// sent until one is wired.
package transport

import (
	"context"
	"fmt"
)

const (
	MethodPost      = "POST"
	ContentTypeJSON = "application/json"
	DataTypeJSON    = "json"
)

// Options describes one request, shaped after the ajax settings object the
// browser helpers used to receive.
type Options struct {
	URL         string
	Data        []byte
	Type        string // HTTP method
	ContentType string
	DataType    string // expected response type
	Headers     map[string]string
}

// Response is the outcome of a completed request.
type Response struct {
	StatusCode int
	Body       []byte
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Body)
}

// Transport performs a single request. Implementations must not retry; that
// is the poster's job.
type Transport interface {
	Do(ctx context.Context, opts Options) (*Response, error)
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, opts Options) (*Response, error)

func (f Func) Do(ctx context.Context, opts Options) (*Response, error) {
	return f(ctx, opts)
}

// Noop accepts every request and sends nothing.
var Noop Transport = Func(func(ctx context.Context, opts Options) (*Response, error) {
	return &Response{}, nil
})
