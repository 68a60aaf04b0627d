// Package logx carries the structured-logging convention used throughout
// this repository, grounded on the teacher's utils/logger.go: a small
// interface over log/slog, with context-aware variants so a query group's
// identity can ride along on the context rather than being threaded through
// every call site.
package logx

import (
	"context"
	"log/slog"
	"os"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

type SlogLogger struct {
	logger *slog.Logger
}

func New(level slog.Level) *SlogLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return &SlogLogger{logger: logger}
}

const prefix = "[asyncquery] "

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(prefix+msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(prefix+msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(prefix+msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(prefix+msg, args...) }

type ctxArgsKey struct{}

func getCtxArgs(ctx context.Context) []any {
	args, _ := ctx.Value(ctxArgsKey{}).([]any)
	return args
}

// WithArgs attaches key/value pairs that every *Ctx log call on this
// context will append, e.g. the query group name a coordinator assigns.
func WithArgs(ctx context.Context, args ...any) context.Context {
	return context.WithValue(ctx, ctxArgsKey{}, append(getCtxArgs(ctx), args...))
}

func (l *SlogLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Debug(prefix+msg, append(args, getCtxArgs(ctx)...)...)
}

func (l *SlogLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Info(prefix+msg, append(args, getCtxArgs(ctx)...)...)
}

func (l *SlogLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Warn(prefix+msg, append(args, getCtxArgs(ctx)...)...)
}

func (l *SlogLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Error(prefix+msg, append(args, getCtxArgs(ctx)...)...)
}

// Nop is a Logger that discards everything, used as the zero-value default
// so callers never need a nil check.
type Nop struct{}

func (Nop) Debug(string, ...any)                    {}
func (Nop) Info(string, ...any)                     {}
func (Nop) Warn(string, ...any)                     {}
func (Nop) Error(string, ...any)                    {}
func (Nop) DebugCtx(context.Context, string, ...any) {}
func (Nop) InfoCtx(context.Context, string, ...any)  {}
func (Nop) WarnCtx(context.Context, string, ...any)  {}
func (Nop) ErrorCtx(context.Context, string, ...any) {}
