package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTP sends requests with net/http.
type HTTP struct {
	client     *http.Client
	baseURL    string
	authtoken  string
	instanceID string
}

// HTTPOpt configures an HTTP transport.
type HTTPOpt func(*HTTP)

// WithHTTPClient replaces the default client (5s timeout). Handy for proxies
// or for mocking the RoundTripper in tests.
func WithHTTPClient(hc *http.Client) HTTPOpt {
	return func(h *HTTP) {
		h.client = hc
	}
}

// WithBaseURL is prefixed to relative request URLs such as the default "/log".
func WithBaseURL(u string) HTTPOpt {
	return func(h *HTTP) {
		h.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAuthtoken sends "Authorization: Bearer <token>" on every request.
func WithAuthtoken(token string) HTTPOpt {
	return func(h *HTTP) {
		h.authtoken = token
	}
}

// WithInstanceID sends "X-Instance-ID" on every request. See EnsureInstanceID.
func WithInstanceID(id string) HTTPOpt {
	return func(h *HTTP) {
		h.instanceID = id
	}
}

func NewHTTP(opts ...HTTPOpt) *HTTP {
	h := &HTTP{
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Do(ctx context.Context, opts Options) (*Response, error) {
	method := opts.Type
	if method == "" {
		method = MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, h.resolve(opts.URL), bytes.NewReader(opts.Data))
	if err != nil {
		return nil, err
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.DataType == DataTypeJSON {
		req.Header.Set("Accept", ContentTypeJSON)
	}
	if h.authtoken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authtoken)
	}
	if h.instanceID != "" {
		req.Header.Set("X-Instance-ID", h.instanceID)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (h *HTTP) resolve(u string) string {
	if h.baseURL == "" || strings.Contains(u, "://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return h.baseURL + u
}
