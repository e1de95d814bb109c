// Package logshim wires the funnel together: an intercepted console whose
// calls are reported to a remote endpoint through a retrying poster, plus
// helpers to guard binding providers and hook an application's log sinks.
package logshim

import (
	"time"

	"github.com/coffersTech/logshim/sdk/applog"
	"github.com/coffersTech/logshim/sdk/binding"
	"github.com/coffersTech/logshim/sdk/diag"
	"github.com/coffersTech/logshim/sdk/intercept"
	"github.com/coffersTech/logshim/sdk/poster"
	"github.com/coffersTech/logshim/sdk/reporter"
	"github.com/coffersTech/logshim/sdk/transport"
	"go.uber.org/zap"
)

type Options struct {
	// URL records are posted to. Default "/log".
	URL string
	// BaseURL of the collector. With no Transport and no BaseURL nothing is
	// sent.
	BaseURL   string
	Authtoken string
	// Transport overrides the net/http transport built from BaseURL.
	Transport transport.Transport

	UnauthorizedRedirect string
	Redirect             func(url string)

	// MaxRetries and RetryDelay default to 3 and 500ms. NoRetry sends once.
	MaxRetries int
	RetryDelay time.Duration
	NoRetry    bool

	// CloseTimeout bounds Close; records still queued then are dropped.
	// Default reporter.DefaultCloseTimeout.
	CloseTimeout time.Duration

	// Logger is the original console. Default zap.NewNop().
	Logger *zap.Logger
	// CaptureStdlog routes the standard library logger through the funnel
	// until Close.
	CaptureStdlog bool
}

type Funnel struct {
	Registry    *intercept.Registry
	Console     *intercept.Interceptor
	Reporter    *reporter.Reporter
	Poster      *poster.Poster
	Diagnostics *diag.Diagnostics

	logger  *zap.Logger
	restore func()
}

// Install builds and wires every component. Close flushes pending records.
func Install(opts Options) *Funnel {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := diag.New()

	t := opts.Transport
	if t == nil {
		if opts.BaseURL != "" {
			t = transport.NewHTTP(
				transport.WithBaseURL(opts.BaseURL),
				transport.WithAuthtoken(opts.Authtoken),
				transport.WithInstanceID(transport.EnsureInstanceID()),
			)
		} else {
			t = transport.Noop
		}
	}

	posterOpts := []poster.Option{
		poster.WithLogger(logger),
		poster.WithDiagnostics(d),
		poster.WithUnauthorizedRedirect(opts.UnauthorizedRedirect),
	}
	if opts.Redirect != nil {
		posterOpts = append(posterOpts, poster.WithRedirect(opts.Redirect))
	}
	switch {
	case opts.NoRetry:
		posterOpts = append(posterOpts, poster.WithoutRetry())
	case opts.MaxRetries > 0 || opts.RetryDelay > 0:
		maxRetries, delay := opts.MaxRetries, opts.RetryDelay
		if maxRetries <= 0 {
			maxRetries = poster.DefaultMaxRetries
		}
		if delay <= 0 {
			delay = poster.DefaultRetryDelay
		}
		posterOpts = append(posterOpts, poster.WithRetries(maxRetries, delay))
	}
	p := poster.New(t, posterOpts...)

	url := opts.URL
	if url == "" {
		url = reporter.DefaultURL
	}
	repOpts := []reporter.Option{
		reporter.WithURL(url),
		reporter.WithPoster(p),
		reporter.WithLogger(logger),
		reporter.WithDiagnostics(d),
	}
	if opts.CloseTimeout > 0 {
		repOpts = append(repOpts, reporter.WithCloseTimeout(opts.CloseTimeout))
	}
	rep := reporter.New(t, repOpts...)

	reg := intercept.NewRegistry()
	console := intercept.Setup(reg, intercept.NewZapConsole(logger), rep.Report, intercept.WithDiagnostics(d))

	f := &Funnel{
		Registry:    reg,
		Console:     console,
		Reporter:    rep,
		Poster:      p,
		Diagnostics: d,
		logger:      logger,
	}
	if opts.CaptureStdlog {
		f.restore = console.CaptureStdlog()
	}
	return f
}

// GuardProvider wraps p so binding failures go to the intercepted console.
func (f *Funnel) GuardProvider(p binding.Provider) *binding.Guard {
	return binding.NewGuard(p, binding.WithLogFunc(f.bindingLog), binding.WithDiagnostics(f.Diagnostics))
}

func (f *Funnel) GuardLegacyProvider(p binding.LegacyProvider) *binding.LegacyGuard {
	return binding.NewLegacyGuard(p, binding.WithLogFunc(f.bindingLog), binding.WithDiagnostics(f.Diagnostics))
}

func (f *Funnel) bindingLog(msg string, node binding.Node) {
	f.Console.Log(msg, node)
}

// WireSystem installs the reporter as sys's log and error sink. Errors are
// echoed to the original console, not the intercepted one, so they are
// posted once.
func (f *Funnel) WireSystem(sys *applog.System) {
	applog.Setup(sys, f.Reporter, f.Console.Original().Error)
}

// Close restores the standard logger if it was captured and flushes queued
// records, giving up after the close timeout.
func (f *Funnel) Close() error {
	if f.restore != nil {
		f.restore()
		f.restore = nil
	}
	err := f.Reporter.Close()
	_ = f.logger.Sync()
	return err
}
