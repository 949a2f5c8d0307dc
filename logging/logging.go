// Package logging provides the debug tuning layer of the SDK: a thin
// slog.Handler wrapper enforcing a minimum level and a per-subsystem
// suppression list. Subsystems tag their loggers with a single attribute
// (logging.SubsystemKey) and the wrapper drops whole record streams by that
// tag without touching the underlying handler.
package logging

import (
	"context"
	"log/slog"
)

// SubsystemKey is the attribute key identifying the emitting subsystem.
// Loggers handed to SDK components carry it via Logger.With.
const SubsystemKey = "subsystem"

// Config tunes debug output.
type Config struct {
	// Suppress lists subsystem names whose records are dropped entirely
	Suppress []string

	// Level is the minimum record level. The zero value means Info, or
	// Debug when Enabled is set.
	Level slog.Level

	// Enabled turns debug output on. When false, records below Info are
	// dropped regardless of Level.
	Enabled bool
}

// minLevel resolves the effective threshold from the flag and the level.
func (c Config) minLevel() slog.Level {
	level := c.Level
	if c.Enabled && level == 0 {
		level = slog.LevelDebug
	}
	if !c.Enabled && level < slog.LevelInfo {
		level = slog.LevelInfo
	}
	return level
}

// Wrap decorates inner with the configured filter. The returned handler is
// safe for concurrent use if inner is.
func Wrap(inner slog.Handler, cfg Config) slog.Handler {
	suppressed := make(map[string]struct{}, len(cfg.Suppress))
	for _, name := range cfg.Suppress {
		suppressed[name] = struct{}{}
	}

	return &handler{
		inner:      inner,
		minLevel:   cfg.minLevel(),
		suppressed: suppressed,
	}
}

// handler filters records by level and by the subsystem attribute. The
// subsystem is picked up both from Logger.With (via WithAttrs) and from
// attributes on the record itself.
type handler struct {
	inner      slog.Handler
	suppressed map[string]struct{}
	subsystem  string
	minLevel   slog.Level
	grouped    bool
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	if _, drop := h.suppressed[h.subsystem]; drop {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	subsystem := h.subsystem
	if subsystem == "" && !h.grouped {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == SubsystemKey {
				subsystem = a.Value.String()
				return false
			}
			return true
		})
	}
	if _, drop := h.suppressed[subsystem]; drop {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	if !h.grouped {
		for _, a := range attrs {
			if a.Key == SubsystemKey {
				next.subsystem = a.Value.String()
			}
		}
	}
	next.inner = h.inner.WithAttrs(attrs)
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	next := *h
	// Внутри группы атрибут subsystem уже не является меткой подсистемы
	next.grouped = true
	next.inner = h.inner.WithGroup(name)
	return &next
}
