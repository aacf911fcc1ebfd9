package msgnet

import (
	"io"
	"log/slog"
)

// Logger receives the framework's structured log records as a message and
// alternating key-value pairs. *slog.Logger satisfies it.
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

// DiscardLogger returns a Logger that drops every record.
func DiscardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// attrLogger appends the attributes returned by attrs to every record.
// attrs is evaluated per record, so values that change later, such as a
// connection id assigned after construction, are logged current.
type attrLogger struct {
	next  Logger
	attrs func() []any
}

func withAttrs(next Logger, attrs func() []any) Logger {
	return &attrLogger{next: next, attrs: attrs}
}

func (l *attrLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.with(args)...) }
func (l *attrLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.with(args)...) }
func (l *attrLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.with(args)...) }
func (l *attrLogger) Error(msg string, args ...any) { l.next.Error(msg, l.with(args)...) }

func (l *attrLogger) with(args []any) []any {
	return append(l.attrs(), args...)
}
