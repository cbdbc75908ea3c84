// Package logbuf collects the steps of one unit of work, such as an HTTP
// request or a scheduler tick, and emits them as a single wide log record.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Step struct {
	Level   slog.Level
	Message string
	Offset  time.Duration
	Attrs   []slog.Attr
}

// Event accumulates attributes and steps. Events made with With share their
// parent's steps; events made with Start get their own.
type Event struct {
	mu     sync.Mutex
	parent *Event
	attrs  []slog.Attr
	steps  *steps
}

type steps struct {
	mu      sync.Mutex
	started time.Time
	list    []Step
	worst   slog.Level
	seen    bool
}

func newSteps() *steps {
	return &steps{started: time.Now()}
}

func New(attrs ...slog.Attr) *Event {
	return &Event{attrs: append([]slog.Attr(nil), attrs...), steps: newSteps()}
}

// Start begins a new unit of work carrying e's attributes.
func (e *Event) Start(attrs ...slog.Attr) *Event {
	return &Event{parent: e, attrs: append([]slog.Attr(nil), attrs...), steps: newSteps()}
}

func (e *Event) With(attrs ...slog.Attr) *Event {
	if len(attrs) == 0 {
		return e
	}
	return &Event{parent: e, attrs: append([]slog.Attr(nil), attrs...), steps: e.steps}
}

// Set adds attributes to the final record.
func (e *Event) Set(attrs ...slog.Attr) {
	if len(attrs) == 0 {
		return
	}
	e.mu.Lock()
	e.attrs = append(e.attrs, attrs...)
	e.mu.Unlock()
}

func (e *Event) Log(level slog.Level, message string, attrs ...slog.Attr) {
	s := e.steps
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, Step{
		Level:   level,
		Message: message,
		Offset:  time.Since(s.started),
		Attrs:   append([]slog.Attr(nil), attrs...),
	})
	if !s.seen || level > s.worst {
		s.worst = level
		s.seen = true
	}
}

func (e *Event) Debug(message string, attrs ...slog.Attr) {
	e.Log(slog.LevelDebug, message, attrs...)
}

func (e *Event) Info(message string, attrs ...slog.Attr) {
	e.Log(slog.LevelInfo, message, attrs...)
}

func (e *Event) Warn(message string, attrs ...slog.Attr) {
	e.Log(slog.LevelWarn, message, attrs...)
}

func (e *Event) Error(message string, attrs ...slog.Attr) {
	e.Log(slog.LevelError, message, attrs...)
}

// Emit logs the event once at floor, or at the most severe step level if that
// is higher, and clears the recorded steps.
func (e *Event) Emit(ctx context.Context, logger *slog.Logger, message string, floor slog.Level) {
	level := floor
	s := e.steps
	s.mu.Lock()
	if s.seen && s.worst > level {
		level = s.worst
	}
	s.mu.Unlock()
	logger.LogAttrs(ctx, level, message, e.Flush())
}

// Flush returns the event as one attribute group and clears the recorded
// steps.
func (e *Event) Flush() slog.Attr {
	s := e.steps
	s.mu.Lock()
	recorded := s.list
	s.list = nil
	s.seen = false
	s.started = time.Now()
	s.mu.Unlock()

	attrs := e.collectAttrs()
	args := make([]any, 0, len(attrs)+1)
	for _, attr := range attrs {
		args = append(args, attr)
	}
	args = append(args, slog.Any("steps", stepsToPayload(recorded)))
	return slog.Group("", args...)
}

func (e *Event) collectAttrs() []slog.Attr {
	chain := []*Event{}
	for current := e; current != nil; current = current.parent {
		chain = append(chain, current)
	}
	attrs := []slog.Attr{}
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.Lock()
		attrs = append(attrs, chain[i].attrs...)
		chain[i].mu.Unlock()
	}
	return attrs
}

func stepsToPayload(recorded []Step) []map[string]any {
	payload := make([]map[string]any, 0, len(recorded))
	for _, step := range recorded {
		item := map[string]any{
			"msg":       step.Message,
			"level":     step.Level.String(),
			"offset_ms": step.Offset.Milliseconds(),
		}
		for key, value := range attrsToMap(step.Attrs) {
			if _, reserved := item[key]; !reserved {
				item[key] = value
			}
		}
		payload = append(payload, item)
	}
	return payload
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	result := map[string]any{}
	for _, attr := range attrs {
		if attr.Key == "" {
			if attr.Value.Kind() == slog.KindGroup {
				for key, value := range attrsToMap(attr.Value.Group()) {
					result[key] = value
				}
			}
			continue
		}
		result[attr.Key] = valueToAny(attr.Value.Resolve())
	}
	return result
}

func valueToAny(value slog.Value) any {
	switch value.Kind() {
	case slog.KindGroup:
		return attrsToMap(value.Group())
	case slog.KindDuration:
		return value.Duration().String()
	default:
		return value.Any()
	}
}

type contextKey struct{}

func WithEvent(ctx context.Context, event *Event) context.Context {
	return context.WithValue(ctx, contextKey{}, event)
}

// FromContext returns the event carried by ctx, or nil.
func FromContext(ctx context.Context) *Event {
	event, _ := ctx.Value(contextKey{}).(*Event)
	return event
}
