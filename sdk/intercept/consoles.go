package intercept

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

type zapConsole struct {
	s *zap.SugaredLogger
}

// NewZapConsole adapts a zap logger to Console. Alerts are logged at warn.
func NewZapConsole(logger *zap.Logger) Console {
	return &zapConsole{s: logger.Sugar()}
}

func (c *zapConsole) Log(args ...any)   { c.s.Info(joinArgs(args)) }
func (c *zapConsole) Error(args ...any) { c.s.Error(joinArgs(args)) }
func (c *zapConsole) Debug(args ...any) { c.s.Debug(joinArgs(args)) }
func (c *zapConsole) Info(args ...any)  { c.s.Info(joinArgs(args)) }
func (c *zapConsole) Warn(args ...any)  { c.s.Warn(joinArgs(args)) }
func (c *zapConsole) Alert(args ...any) { c.s.Warn(joinArgs(args)) }

// joinArgs formats like console.log: arguments separated by spaces.
func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}

// LogrusHook feeds an application's logrus entries into the fan-out. Attach it
// to a logger whose own output is not also the interceptor's original console,
// or every line is printed twice.
type LogrusHook struct {
	i *Interceptor
}

func NewLogrusHook(i *Interceptor) *LogrusHook {
	return &LogrusHook{i: i}
}

func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	args := []any{entry.Message}
	if len(entry.Data) > 0 {
		fields := make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
		args = append(args, fields)
	}
	h.i.notify(kindForLevel(entry.Level), args)
	return nil
}

func kindForLevel(level logrus.Level) Kind {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return Error
	case logrus.WarnLevel:
		return Warn
	case logrus.InfoLevel:
		return Info
	case logrus.DebugLevel, logrus.TraceLevel:
		return Debug
	}
	return Log
}
