// Package binding guards a UI data-binding provider so that failures while
// building or evaluating a node's bindings are logged instead of escaping
// into the host. Parsing binding syntax stays with the wrapped provider.
package binding

import (
	"fmt"

	"github.com/coffersTech/logshim/sdk/diag"
	"go.uber.org/zap"
)

// Node is whatever the host uses for a bound element.
type Node = any

// Context is the host's binding context for a node.
type Context = any

// Accessor evaluates one binding's value.
type Accessor func() (any, error)

// Provider is the accessor-based provider shape.
type Provider interface {
	NodeHasBindings(node Node) bool
	GetBindingAccessors(node Node, bctx Context) (map[string]Accessor, error)
}

// LegacyProvider is the older shape that returns evaluated bindings directly.
type LegacyProvider interface {
	NodeHasBindings(node Node) bool
	GetBindings(node Node, bctx Context) (map[string]any, error)
}

// LogFunc receives one failure message and the node it happened on.
type LogFunc func(msg string, node Node)

type guardOpts struct {
	log  LogFunc
	diag *diag.Diagnostics
}

type Option func(*guardOpts)

// WithLogFunc routes failures somewhere other than the default zap logger,
// typically a log reporter.
func WithLogFunc(fn LogFunc) Option {
	return func(o *guardOpts) {
		o.log = fn
	}
}

// WithLogger logs failures at warn level with the node as a field.
func WithLogger(logger *zap.Logger) Option {
	return func(o *guardOpts) {
		o.log = zapLogFunc(logger)
	}
}

func WithDiagnostics(d *diag.Diagnostics) Option {
	return func(o *guardOpts) {
		o.diag = d
	}
}

func zapLogFunc(logger *zap.Logger) LogFunc {
	return func(msg string, node Node) {
		logger.Warn(msg, zap.Any("node", node))
	}
}

func newGuardOpts(opts []Option) guardOpts {
	o := guardOpts{log: zapLogFunc(zap.NewNop())}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Guard wraps a Provider. Binding construction failures yield no bindings;
// evaluation failures yield nil for that key only.
type Guard struct {
	original Provider
	opts     guardOpts
}

func NewGuard(original Provider, opts ...Option) *Guard {
	return &Guard{
		original: original,
		opts:     newGuardOpts(opts),
	}
}

func (g *Guard) NodeHasBindings(node Node) bool {
	return g.original.NodeHasBindings(node)
}

// GetBindingAccessors never returns an error.
func (g *Guard) GetBindingAccessors(node Node, bctx Context) (map[string]Accessor, error) {
	accessors, err := g.construct(node, bctx)
	if err != nil {
		g.report(fmt.Sprintf("Error in binding syntax: %s", err), node, err)
		accessors = nil
	}

	result := make(map[string]Accessor, len(accessors))
	for key, acc := range accessors {
		result[key] = g.wrap(key, acc, node)
	}
	return result, nil
}

func (g *Guard) construct(node Node, bctx Context) (accessors map[string]Accessor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return g.original.GetBindingAccessors(node, bctx)
}

func (g *Guard) wrap(key string, acc Accessor, node Node) Accessor {
	return func() (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				e := panicError(r)
				g.report(fmt.Sprintf("Error in %q binding: %s", key, e), node, e)
				value, err = nil, nil
			}
		}()
		if acc == nil {
			return nil, nil
		}
		v, evalErr := acc()
		if evalErr != nil {
			g.report(fmt.Sprintf("Error in %q binding: %s", key, evalErr), node, evalErr)
			return nil, nil
		}
		return v, nil
	}
}

func (g *Guard) report(msg string, node Node, err error) {
	g.opts.diag.Record(diag.Binding, err)
	defer func() {
		// the sink may be broken too
		_ = recover()
	}()
	g.opts.log(msg, node)
}

// LegacyGuard wraps a LegacyProvider. Any lookup failure is logged and the
// node gets no bindings at all.
type LegacyGuard struct {
	original LegacyProvider
	opts     guardOpts
}

func NewLegacyGuard(original LegacyProvider, opts ...Option) *LegacyGuard {
	return &LegacyGuard{
		original: original,
		opts:     newGuardOpts(opts),
	}
}

func (g *LegacyGuard) NodeHasBindings(node Node) bool {
	return g.original.NodeHasBindings(node)
}

// GetBindings never returns an error.
func (g *LegacyGuard) GetBindings(node Node, bctx Context) (bindings map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(panicError(r), node)
			bindings, err = nil, nil
		}
	}()
	b, lookupErr := g.original.GetBindings(node, bctx)
	if lookupErr != nil {
		g.fail(lookupErr, node)
		return nil, nil
	}
	return b, nil
}

func (g *LegacyGuard) fail(err error, node Node) {
	g.opts.diag.Record(diag.Binding, err)
	defer func() {
		_ = recover()
	}()
	g.opts.log(fmt.Sprintf("Error in binding: %s", err), node)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
