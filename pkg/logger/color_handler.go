package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
)

// ColorHandler is a plain-text slog.Handler that colors messages by level:
// errors red, warnings yellow, and checkpoint-persistence info lines green so
// training progress stands out in long runs.
type ColorHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	mu    sync.Mutex
}

// NewColorHandler creates a handler writing directly to w.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	level := slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level.Level()
	}
	return &ColorHandler{w: w, level: level}
}

// Enabled implements slog.Handler.
func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler.
func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var color string
	switch r.Level {
	case slog.LevelError:
		color = colorRed
	case slog.LevelWarn:
		color = colorYellow
	case slog.LevelInfo:
		if strings.Contains(strings.ToLower(r.Message), "persist") {
			color = colorGreen
		}
	}

	var buf strings.Builder
	buf.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	buf.WriteString(" ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")

	if color != "" {
		buf.WriteString(color)
	}
	buf.WriteString(r.Message)
	if color != "" {
		buf.WriteString(colorReset)
	}

	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, " %s=%s", a.Key, a.Value.String())
		return true
	})
	for _, a := range h.attrs {
		fmt.Fprintf(&buf, " %s=%s", a.Key, a.Value.String())
	}
	buf.WriteString("\n")

	_, err := io.WriteString(h.w, buf.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ColorHandler{w: h.w, level: h.level, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are flattened; the detector's
// log output is simple enough that grouping adds nothing.
func (h *ColorHandler) WithGroup(string) slog.Handler {
	return h
}
