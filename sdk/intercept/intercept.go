// Package intercept routes console-style logging through an ordered listener
// fan-out. Setup registers the default listeners (remote first, then the
// original console) and returns a Console that notifies them.
package intercept

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/coffersTech/logshim/sdk/diag"
)

// Console is the set of methods that get intercepted.
type Console interface {
	Log(args ...any)
	Error(args ...any)
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Alert(args ...any)
}

// Interceptor is the intercepted console. It never panics into its caller.
type Interceptor struct {
	reg      *Registry
	original Console
	remote   Listener
	diag     *diag.Diagnostics
}

type Option func(*Interceptor)

func WithDiagnostics(d *diag.Diagnostics) Option {
	return func(i *Interceptor) {
		i.diag = d
	}
}

// Setup registers the default listeners on reg and returns the intercepted
// console. Every kind forwards to remote; log, error, info and warn also go to
// the original console's same method, while debug and alert go to its Log.
//
// Setup does not guard against repeated calls: a second Setup on the same
// registry registers everything again and each call is then delivered twice.
func Setup(reg *Registry, original Console, remote Listener, opts ...Option) *Interceptor {
	i := &Interceptor{
		reg:      reg,
		original: original,
		remote:   remote,
	}
	for _, opt := range opts {
		opt(i)
	}

	for _, kind := range Kinds {
		reg.Add(kind, remote)
	}

	reg.Add(Log, original.Log)
	reg.Add(Error, original.Error)
	reg.Add(Info, original.Info)
	reg.Add(Warn, original.Warn)
	// debug is not recommended, and alerts are not shown; both land in the log
	reg.Add(Debug, original.Log)
	reg.Add(Alert, original.Log)

	return i
}

func (i *Interceptor) Log(args ...any)   { i.notify(Log, args) }
func (i *Interceptor) Error(args ...any) { i.notify(Error, args) }
func (i *Interceptor) Debug(args ...any) { i.notify(Debug, args) }
func (i *Interceptor) Info(args ...any)  { i.notify(Info, args) }
func (i *Interceptor) Warn(args ...any)  { i.notify(Warn, args) }
func (i *Interceptor) Alert(args ...any) { i.notify(Alert, args) }

// Notify delivers args to every listener of kind.
func (i *Interceptor) Notify(kind Kind, args ...any) {
	i.notify(kind, args)
}

// Original returns the console that was wrapped.
func (i *Interceptor) Original() Console {
	return i.original
}

// HandleError routes an uncaught error event to the intercepted Log.
func (i *Interceptor) HandleError(v any) {
	i.Log(v)
}

// Recover is meant to be deferred. A panic is reported through HandleError
// and stops there.
func (i *Interceptor) Recover() {
	if r := recover(); r != nil {
		i.HandleError(r)
	}
}

func (i *Interceptor) notify(kind Kind, args []any) {
	for _, l := range i.reg.Listeners(kind) {
		i.invoke(kind, l, args)
	}
}

func (i *Interceptor) invoke(kind Kind, l Listener, args []any) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("intercept: %s listener panic: %v", kind, r)
			i.diag.Record(diag.Listener, err)
			i.selfReport(err)
		}
	}()
	l(args...)
}

// selfReport tells the original console and remote about a listener
// failure, bypassing the fan-out so a broken listener cannot recurse. Each
// call is guarded on its own since remote may be the listener that failed.
func (i *Interceptor) selfReport(err error) {
	i.guard(func() { i.original.Log(err) })
	i.guard(func() { i.remote(err.Error()) })
}

func (i *Interceptor) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			i.diag.Record(diag.Listener, fmt.Errorf("intercept: self report panic: %v", r))
		}
	}()
	fn()
}

// Writer returns an io.Writer whose lines are delivered as kind calls.
func (i *Interceptor) Writer(kind Kind) io.Writer {
	return &kindWriter{i: i, kind: kind}
}

// CaptureStdlog sends the standard library logger's output through the
// fan-out as Log calls. The returned func restores the previous output.
func (i *Interceptor) CaptureStdlog() (restore func()) {
	prevOut := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(i.Writer(Log))
	log.SetFlags(0)
	return func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}
}

type kindWriter struct {
	i    *Interceptor
	kind Kind
}

func (w *kindWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.i.notify(w.kind, []any{line})
	}
	return len(p), nil
}
