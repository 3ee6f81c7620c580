package ship

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/model"
)

// Handler is the producer-side integration point: a slog.Handler that turns
// each record into a LogRecord and enqueues it. It never performs network
// I/O and never blocks past the enqueue and trigger check. Failures in the
// logging path are diagnosed, never returned, so they cannot abort the
// caller's primary work.
type Handler struct {
	shipper *Shipper
	level   slog.Leveler
	log     *zap.Logger

	attrs  []slog.Attr
	groups []string
}

// NewHandler returns a Handler shipping through s at the given minimum
// level. A nil level means slog.LevelInfo.
func NewHandler(s *Shipper, level slog.Leveler, log *zap.Logger) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{shipper: s, level: level, log: log}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := model.LogRecord{
		Time:   r.Time,
		Level:  r.Level.String(),
		Fields: make(map[string]string),
	}

	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		rec.Caller = fmt.Sprintf("%s:%d", f.File, f.Line)
		rec.Fields["caller"] = rec.Caller
	}
	rec.Fields["level"] = rec.Level

	var b strings.Builder
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	appendAttr := func(key, val string) {
		rec.Fields[key] = val
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(val)
	}
	// Stored attrs were qualified when added; record attrs belong to the
	// current group.
	for _, a := range h.attrs {
		appendAttr(a.Key, a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(h.qualify(a.Key), a.Value.String())
		return true
	})
	rec.Message = b.String()

	if err := h.shipper.Enqueue(rec); err != nil {
		h.log.Debug("log record not enqueued", zap.Error(err))
	}
	return nil
}

func (h *Handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}
