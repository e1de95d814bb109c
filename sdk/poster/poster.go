// Package poster wraps a Transport with JSON encoding, a 401 redirect hook and
// an optional fixed-delay retry. Every outcome is reported through hooks; a
// Poster never panics into its caller.
package poster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coffersTech/logshim/sdk/diag"
	"github.com/coffersTech/logshim/sdk/transport"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

type Poster struct {
	transport transport.Transport
	logger    *zap.Logger
	diag      *diag.Diagnostics

	maxRetries int
	retryDelay time.Duration
	timer      backoff.Timer

	unauthorizedRedirect string
	redirect             func(url string)
	on401                func()
	done                 func(resp *transport.Response)
	fail                 func(err error)
	encode               func(v any) ([]byte, error)
	mapHeaders           func(h map[string]string) map[string]string

	wg sync.WaitGroup
}

// Option configures a Poster. Hooks may be called from several goroutines
// when Go is used.
type Option func(*Poster)

// WithRetries enables the retry chain: up to maxRetries extra attempts, each
// after a fixed delay. Negative values are treated as zero.
func WithRetries(maxRetries int, delay time.Duration) Option {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay < 0 {
		delay = 0
	}
	return func(p *Poster) {
		p.maxRetries = maxRetries
		p.retryDelay = delay
	}
}

// WithoutRetry makes every Post a single attempt.
func WithoutRetry() Option {
	return func(p *Poster) {
		p.maxRetries = 0
	}
}

// WithUnauthorizedRedirect sets where the default 401 handler redirects.
// Empty means a 401 navigates nowhere.
func WithUnauthorizedRedirect(url string) Option {
	return func(p *Poster) {
		p.unauthorizedRedirect = url
	}
}

// WithRedirect sets how a redirect is performed.
func WithRedirect(fn func(url string)) Option {
	return func(p *Poster) {
		p.redirect = fn
	}
}

// WithOn401 replaces the default 401 handler entirely.
func WithOn401(fn func()) Option {
	return func(p *Poster) {
		p.on401 = fn
	}
}

func WithDone(fn func(resp *transport.Response)) Option {
	return func(p *Poster) {
		p.done = fn
	}
}

// WithFail sets the terminal failure hook, run once per Post after the retry
// chain is exhausted or a 401 was received.
func WithFail(fn func(err error)) Option {
	return func(p *Poster) {
		p.fail = fn
	}
}

// WithEncoder replaces json.Marshal for request bodies.
func WithEncoder(fn func(v any) ([]byte, error)) Option {
	return func(p *Poster) {
		p.encode = fn
	}
}

// WithHeaderMapper lets callers rewrite headers before they are sent.
func WithHeaderMapper(fn func(h map[string]string) map[string]string) Option {
	return func(p *Poster) {
		p.mapHeaders = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Poster) {
		p.logger = logger
	}
}

func WithDiagnostics(d *diag.Diagnostics) Option {
	return func(p *Poster) {
		p.diag = d
	}
}

// WithTimer replaces the timer used between attempts. Mainly for tests.
func WithTimer(t backoff.Timer) Option {
	return func(p *Poster) {
		p.timer = t
	}
}

// New creates a Poster over t. Without options it retries DefaultMaxRetries
// times, DefaultRetryDelay apart. A nil t means transport.Noop.
func New(t transport.Transport, opts ...Option) *Poster {
	if t == nil {
		t = transport.Noop
	}
	p := &Poster{
		transport:  t,
		logger:     zap.NewNop(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		encode:     json.Marshal,
		mapHeaders: func(h map[string]string) map[string]string { return h },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.redirect == nil {
		p.redirect = func(url string) {
			p.logger.Warn("Unauthorized, redirect requested", zap.String("location", url))
		}
	}
	if p.on401 == nil {
		p.on401 = p.defaultOn401
	}
	if p.done == nil {
		p.done = func(resp *transport.Response) {
			p.logger.Debug("Loaded", zap.Int("status", resp.StatusCode))
		}
	}
	if p.fail == nil {
		p.fail = func(err error) {
			p.logger.Warn("Post failed", zap.Error(err))
		}
	}
	return p
}

func (p *Poster) defaultOn401() {
	if p.unauthorizedRedirect != "" {
		p.redirect(p.unauthorizedRedirect)
	}
}

// Post sends data as JSON to url, retrying on failure with the same url, body
// and headers. It blocks until the chain finishes. The returned error mirrors
// what the Fail hook received and is nil on success.
func (p *Poster) Post(ctx context.Context, url string, data any, headers map[string]string) error {
	p.logger.Debug("POST", zap.String("url", url), zap.Any("data", data), zap.Any("headers", headers))

	body, err := p.safeEncode(data)
	if err != nil {
		err = fmt.Errorf("poster: encode body for %s: %w", url, err)
		p.diag.Record(diag.Serialize, err)
		p.fail(err)
		return err
	}

	opts := transport.Options{
		URL:         url,
		Data:        body,
		Type:        transport.MethodPost,
		ContentType: transport.ContentTypeJSON,
		DataType:    transport.DataTypeJSON,
		Headers:     p.mapHeaders(headers),
	}

	attempt := 0
	var resp *transport.Response
	operation := func() error {
		attempt++
		r, err := p.do(ctx, opts)
		if err != nil {
			if isUnauthorized(err) {
				p.diag.Record(diag.Unauthorized, err)
				p.on401()
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, next time.Duration) {
		p.logger.Info("Post failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", next),
			zap.Error(err),
		)
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.retryDelay), uint64(p.maxRetries))
	if err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(policy, ctx), notify, p.timer); err != nil {
		p.diag.Record(diag.Transport, err)
		p.fail(err)
		return err
	}

	if resp == nil {
		resp = &transport.Response{}
	}
	p.done(resp)
	return nil
}

// Go runs Post in the background. Use Wait to block until all are finished.
func (p *Poster) Go(ctx context.Context, url string, data any, headers map[string]string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.Post(ctx, url, data, headers)
	}()
}

func (p *Poster) Wait() {
	p.wg.Wait()
}

func (p *Poster) do(ctx context.Context, opts transport.Options) (resp *transport.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poster: transport panic: %v", r)
		}
	}()
	return p.transport.Do(ctx, opts)
}

func (p *Poster) safeEncode(data any) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoder panic: %v", r)
		}
	}()
	return p.encode(data)
}

func isUnauthorized(err error) bool {
	var se *transport.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
