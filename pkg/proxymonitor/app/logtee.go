package app

import (
	"context"
	"log/slog"
	"strings"

	filetransport "github.com/vpbank/proxy_monitor/transport/file"
)

// teeHandler forwards every record to the wrapped handler and additionally
// appends Warn-and-above records to the error trail, so device and metric
// failures are kept on disk whatever the cycle's aggregate outcome.
type teeHandler struct {
	inner slog.Handler
	sink  filetransport.Transport

	// attrs accumulated through WithAttrs; the trail line must carry them
	// itself because the wrapped handler holds its copy privately.
	attrs []slog.Attr
}

func newTeeHandler(inner slog.Handler, sink filetransport.Transport) *teeHandler {
	return &teeHandler{inner: inner, sink: sink}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn || h.inner.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= slog.LevelWarn {
		var b strings.Builder
		b.WriteString(rec.Message)
		for _, a := range h.attrs {
			b.WriteByte(' ')
			b.WriteString(a.String())
		}
		rec.Attrs(func(a slog.Attr) bool {
			b.WriteByte(' ')
			b.WriteString(a.String())
			return true
		})
		// The sink timestamps each line; a trail write failure must not
		// fail the log call itself.
		_ = h.sink.Send([]byte(b.String()))
	}
	if h.inner.Enabled(ctx, rec.Level) {
		return h.inner.Handle(ctx, rec)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		inner: h.inner.WithAttrs(attrs),
		sink:  h.sink,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened in the trail; the wrapped handler keeps them.
	return &teeHandler{
		inner: h.inner.WithGroup(name),
		sink:  h.sink,
		attrs: h.attrs,
	}
}
