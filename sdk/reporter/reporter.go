// Package reporter posts log records to a remote endpoint as
// {"data": <value-or-serialized-string>}. Reporting is fire-and-forget: records
// are queued and a single sender goroutine hands them to a poster, so records
// from one Reporter leave in call order.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/coffersTech/logshim/sdk/diag"
	"github.com/coffersTech/logshim/sdk/poster"
	"github.com/coffersTech/logshim/sdk/transport"
	"go.uber.org/zap"
)

const (
	DefaultURL       = "/log"
	DefaultQueueSize = 1024
	// DefaultCloseTimeout bounds how long Close keeps sending queued records.
	DefaultCloseTimeout = 5 * time.Second
)

type ReporterError string

func (e ReporterError) Error() string {
	return string(e)
}

const ErrClosed = ReporterError("reporter closed")
const ErrQueueFull = ReporterError("reporter queue full")
const ErrCloseTimeout = ReporterError("reporter close timed out")

// Envelope is the body sent for every record.
type Envelope struct {
	Data any `json:"data"`
}

type Reporter struct {
	url       string
	poster    *poster.Poster
	encode    func(v any) ([]byte, error)
	headers   map[string]string
	logger    *zap.Logger
	diag      *diag.Diagnostics
	queueSize int

	closeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	mu     sync.RWMutex
	closed bool
	queue  chan json.RawMessage
	done   chan struct{}
	wg     sync.WaitGroup
}

type Option func(*Reporter)

// WithURL sets where records are posted. Default "/log".
func WithURL(url string) Option {
	return func(r *Reporter) {
		r.url = url
	}
}

// WithPoster sends through p instead of a single-attempt poster over the
// reporter's transport.
func WithPoster(p *poster.Poster) Option {
	return func(r *Reporter) {
		r.poster = p
	}
}

// WithEncoder sets the primary serializer. encoding/json stays as the
// fallback when it fails.
func WithEncoder(fn func(v any) ([]byte, error)) Option {
	return func(r *Reporter) {
		r.encode = fn
	}
}

func WithHeaders(h map[string]string) Option {
	return func(r *Reporter) {
		r.headers = h
	}
}

// WithLogger sets where the reporter logs its own failures. It must not be
// routed back through an interceptor feeding this reporter.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

func WithDiagnostics(d *diag.Diagnostics) Option {
	return func(r *Reporter) {
		r.diag = d
	}
}

// WithCloseTimeout bounds Close. Records still queued when it expires are
// dropped. Zero or less waits for every record.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		r.closeTimeout = d
	}
}

func WithQueueSize(n int) Option {
	if n < 1 {
		n = 1
	}
	return func(r *Reporter) {
		r.queueSize = n
	}
}

// New starts a Reporter. A nil transport means transport.Noop. Call Close to
// flush pending records.
func New(t transport.Transport, opts ...Option) *Reporter {
	r := &Reporter{
		url:       DefaultURL,
		encode:    json.Marshal,
		logger:    zap.NewNop(),
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),

		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.poster == nil {
		r.poster = poster.New(t,
			poster.WithoutRetry(),
			poster.WithLogger(r.logger),
			poster.WithDiagnostics(r.diag),
		)
	}
	r.queue = make(chan json.RawMessage, r.queueSize)
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.runLoop()

	return r
}

// Report posts a single string argument verbatim and any other argument list
// as a whole. Report with no arguments posts nothing.
func (r *Reporter) Report(values ...any) {
	if len(values) == 0 {
		return
	}
	if len(values) == 1 {
		if s, ok := values[0].(string); ok {
			r.PostLog(s)
			return
		}
	}
	r.PostLog(values)
}

// PostLog queues data for sending. Strings go as-is, a one-element []any goes
// as its element, anything else as its JSON text. nil, nil pointers, maps and
// slices, and "" are skipped.
func (r *Reporter) PostLog(data any) {
	if isNil(data) {
		return
	}
	var payload any
	switch v := data.(type) {
	case nil:
		return
	case string:
		if v == "" {
			return
		}
		payload = v
	case []any:
		if len(v) == 1 {
			payload = v[0]
		} else {
			payload = r.serialize(v)
		}
	default:
		payload = r.serialize(v)
	}
	r.enqueue(r.envelope(payload))
}

// Close stops accepting records and sends what is queued, for at most the
// close timeout. It is safe to call more than once.
func (r *Reporter) Close() error {
	ctx := context.Background()
	if r.closeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.closeTimeout)
		defer cancel()
	}
	return r.CloseContext(ctx)
}

// CloseContext is Close bounded by ctx. When ctx ends first the pending post
// is cancelled, the remaining records are dropped and ErrCloseTimeout is
// returned.
func (r *Reporter) CloseContext(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-finished
		return fmt.Errorf("%w: %w", ErrCloseTimeout, ctx.Err())
	}
}

// serialize returns v as JSON text, or nil when neither encoder can handle it.
func (r *Reporter) serialize(v any) any {
	b, err := tryEncode(r.encode, v)
	if err == nil {
		return string(b)
	}
	b, fallbackErr := tryEncode(json.Marshal, v)
	if fallbackErr == nil {
		return string(b)
	}

	failure := fmt.Errorf("reporter: serialize %T: %w", v, errors.Join(err, fallbackErr))
	r.diag.Record(diag.Serialize, failure)
	r.logger.Error("Failed to serialize log data", zap.Error(failure))
	return nil
}

func (r *Reporter) envelope(payload any) json.RawMessage {
	if b, err := tryEncode(r.encode, Envelope{Data: payload}); err == nil {
		return b
	}
	if b, err := tryEncode(json.Marshal, Envelope{Data: payload}); err == nil {
		return b
	}
	// payload is a raw value neither encoder accepts
	b, _ := json.Marshal(Envelope{Data: r.serialize(payload)})
	return b
}

func (r *Reporter) enqueue(body json.RawMessage) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.diag.Record(diag.Dropped, ErrClosed)
		return
	}
	select {
	case r.queue <- body:
	default:
		r.diag.Record(diag.Dropped, ErrQueueFull)
		r.logger.Warn("Reporter queue full, dropping log", zap.Int("capacity", cap(r.queue)))
	}
}

func (r *Reporter) runLoop() {
	defer r.wg.Done()
	for {
		select {
		case body := <-r.queue:
			r.send(body)
		case <-r.done:
			for {
				select {
				case body := <-r.queue:
					r.send(body)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) send(body json.RawMessage) {
	if r.ctx.Err() != nil {
		r.diag.Record(diag.Dropped, ErrCloseTimeout)
		return
	}
	_ = r.poster.Post(r.ctx, r.url, body, r.headers)
}

func tryEncode(fn func(v any) ([]byte, error), v any) (b []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("encoder panic: %v", rec)
		}
	}()
	return fn(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
