package log

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// DiscardHandler returns a handler that drops every record.
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

type discardHandler struct{}

func (h *discardHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (h *discardHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h *discardHandler) WithAttrs(_ []slog.Attr) slog.Handler          { return h }
func (h *discardHandler) WithGroup(_ string) slog.Handler               { return h }

// NewTerminalHandlerWithLevel returns a text handler writing to w, emitting
// records at lvl and above. The mutex serializes writers sharing one stream.
func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return &terminalHandler{
		inner: slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: lvl,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey {
					if l, ok := a.Value.Any().(slog.Level); ok {
						a.Value = slog.StringValue(LevelString(l))
					}
				}
				return a
			},
		}),
	}
}

type terminalHandler struct {
	mu    sync.Mutex
	inner slog.Handler
}

func (h *terminalHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.inner.Enabled(ctx, lvl)
}

func (h *terminalHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.Handle(ctx, r)
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &terminalHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	return &terminalHandler{inner: h.inner.WithGroup(name)}
}
