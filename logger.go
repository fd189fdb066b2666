package astyled

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// fieldLogger prepends a fixed set of key-value pairs to every call.
type fieldLogger struct {
	next   Logger
	fields []any
}

// withFields returns a Logger that adds fields to every record written through l.
func withFields(l Logger, fields ...any) Logger {
	if fl, ok := l.(*fieldLogger); ok {
		merged := append(append([]any{}, fl.fields...), fields...)
		return &fieldLogger{next: fl.next, fields: merged}
	}
	return &fieldLogger{next: l, fields: fields}
}

func (l *fieldLogger) args(args []any) []any {
	return append(append(make([]any, 0, len(l.fields)+len(args)), l.fields...), args...)
}

func (l *fieldLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.args(args)...) }
func (l *fieldLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.args(args)...) }
func (l *fieldLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.args(args)...) }
func (l *fieldLogger) Error(msg string, args ...any) { l.next.Error(msg, l.args(args)...) }
