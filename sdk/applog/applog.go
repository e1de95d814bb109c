// Package applog installs a log reporter as an application's log and error
// sink.
package applog

// System is the host lifecycle object whose logging hooks are overridable.
type System struct {
	Log   func(args ...any)
	Error func(err any, inner any)
}

// Reporter is the part of reporter.Reporter used here.
type Reporter interface {
	Report(values ...any)
	PostLog(data any)
}

// Setup replaces sys.Log with rep.Report and sys.Error with a handler that
// posts the error (and inner, when set) and echoes each to console. console
// should be the original, non-intercepted error output; nil means no echo.
func Setup(sys *System, rep Reporter, console func(args ...any)) {
	sys.Log = rep.Report
	sys.Error = func(err any, inner any) {
		defer func() {
			_ = recover()
		}()

		rep.PostLog(errorData(err))
		if console != nil {
			console(err)
		}

		if inner != nil {
			rep.PostLog(errorData(inner))
			if console != nil {
				console(inner)
			}
		}
	}
}

// errorData posts errors by message; encoding/json renders most error values
// as {}.
func errorData(v any) any {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}
