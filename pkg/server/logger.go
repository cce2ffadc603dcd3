package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mikeboe/research-crew/pkg/store"
)

// RunLogHandler is a slog.Handler that persists every record of a run to the
// store and passes it on to next, if set.
type RunLogHandler struct {
	Store store.Store
	RunID uuid.UUID

	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

func NewRunLogHandler(st store.Store, runID uuid.UUID, next slog.Handler) *RunLogHandler {
	return &RunLogHandler{
		Store: st,
		RunID: runID,
		next:  next,
	}
}

// Enabled always accepts: the run log keeps debug records even when the
// console handler filters them.
func (h *RunLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *RunLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefixed(a.Key)] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Persist even if the request that started the run has gone away.
	storeErr := h.Store.AppendLog(context.WithoutCancel(ctx), store.LogEntry{
		RunID:     h.RunID,
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		rec := r.Clone()
		rec.AddAttrs(slog.String("run_id", h.RunID.String()))
		if err := h.next.Handle(ctx, rec); err != nil {
			return err
		}
	}
	return storeErr
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		m := make(map[string]any)
		for _, a := range v.Group() {
			m[a.Key] = attrValue(a.Value)
		}
		return m
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		if _, err := json.Marshal(v.Any()); err != nil {
			return fmt.Sprint(v.Any())
		}
		return v.Any()
	default:
		return v.Any()
	}
}

func (h *RunLogHandler) prefixed(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

func (h *RunLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, slog.Attr{Key: h.prefixed(a.Key), Value: a.Value})
	}
	if h.next != nil {
		cp.next = h.next.WithAttrs(attrs)
	}
	return &cp
}

func (h *RunLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.groups = append(slices.Clone(h.groups), name)
	if h.next != nil {
		cp.next = h.next.WithGroup(name)
	}
	return &cp
}
