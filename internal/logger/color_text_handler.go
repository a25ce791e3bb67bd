package logger

import (
	"context"
	"io"
	"log/slog"
)

// StreamKey is the attribute that marks a record as a forwarded server
// output line. Its value is the stream name, "stdout" or "stderr".
const StreamKey = "stream"

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiDim    = "\033[2m"
)

// ColorTextHandler is a text handler for terminals. The level is colored,
// and forwarded server lines get a colored [stdout]/[stderr] tag in place of
// their stream attribute.
type ColorTextHandler struct {
	inner slog.Handler
	// stream is set when StreamKey was bound through WithAttrs.
	stream string
}

// NewColorTextHandler creates a ColorTextHandler writing to w. When showTime
// is false the time attribute is omitted.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	if !showTime {
		next := o.ReplaceAttr
		o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if next != nil {
				return next(groups, a)
			}
			return a
		}
	}
	return &ColorTextHandler{inner: slog.NewTextHandler(w, &o)}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	stream := h.stream
	out := slog.NewRecord(r.Time, r.Level, "", r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == StreamKey {
			stream = a.Value.String()
			return true
		}
		out.AddAttrs(a)
		return true
	})
	msg := r.Message
	if stream != "" {
		msg = streamColor(stream) + "[" + stream + "]" + ansiReset + " " + msg
	}
	out.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + msg
	return h.inner.Handle(ctx, out)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	kept := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == StreamKey {
			c.stream = a.Value.String()
			continue
		}
		kept = append(kept, a)
	}
	c.inner = h.inner.WithAttrs(kept)
	return &c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l >= slog.LevelInfo:
		return ansiGreen
	default:
		return ansiCyan
	}
}

func streamColor(stream string) string {
	if stream == "stderr" {
		return ansiRed
	}
	return ansiDim
}
