package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is one log line as served by /api/logs.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	RowNumber     int64             `json:"row_number,omitempty"`
	Method        string            `json:"method,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	Details       []DetailField     `json:"details,omitempty"`
}

// DetailField mirrors the console handler's info bullet lines.
type DetailField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// StreamQuery selects events from a StreamHub. Zero values mean no filter.
type StreamQuery struct {
	Since     uint64
	Limit     int
	JobID     string
	Component string
	// Wait blocks until at least one matching event exists past Since.
	Wait bool
}

func (q StreamQuery) matches(evt LogEvent) bool {
	if q.JobID != "" && evt.JobID != q.JobID {
		return false
	}
	if q.Component != "" && !strings.EqualFold(q.Component, evt.Component) {
		return false
	}
	return true
}

// StreamHub keeps the most recent log events in a ring and lets readers page
// or long-poll through them by sequence number.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	start   int
	size    int
	nextSeq uint64
	changed chan struct{}
}

// NewStreamHub creates a hub holding at most capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{
		ring:    make([]LogEvent, capacity),
		changed: make(chan struct{}),
	}
}

// Publish stores evt, evicting the oldest event when full, and wakes waiters.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = evt
		h.size++
	} else {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % len(h.ring)
	}
	close(h.changed)
	h.changed = make(chan struct{})
}

// Fetch returns matching events with a sequence above q.Since, oldest first,
// together with the latest sequence number. The cursor only covers what was
// scanned, so callers resume from it without missing events.
func (h *StreamHub) Fetch(ctx context.Context, q StreamQuery) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, q.Since, nil
	}
	for {
		h.mu.Lock()
		events, next := h.collectLocked(q)
		wake := h.changed
		h.mu.Unlock()

		if len(events) > 0 || !q.Wait {
			return events, next, nil
		}
		q.Since = next
		select {
		case <-ctx.Done():
			return nil, next, ctx.Err()
		case <-wake:
		}
	}
}

// Tail returns the last q.Limit matching events without blocking.
func (h *StreamHub) Tail(q StreamQuery) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	limit := h.limit(q.Limit)
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []LogEvent
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		if evt := h.at(i); q.matches(evt) {
			out = append(out, evt)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return h.nextSeq
	}
	return h.at(0).Sequence
}

func (h *StreamHub) limit(n int) int {
	if n <= 0 || n > len(h.ring) {
		return len(h.ring)
	}
	return n
}

func (h *StreamHub) at(i int) LogEvent {
	return h.ring[(h.start+i)%len(h.ring)]
}

func (h *StreamHub) collectLocked(q StreamQuery) ([]LogEvent, uint64) {
	limit := h.limit(q.Limit)
	var out []LogEvent
	cursor := h.nextSeq
	for i := 0; i < h.size; i++ {
		evt := h.at(i)
		if evt.Sequence <= q.Since || !q.matches(evt) {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			cursor = evt.Sequence
			break
		}
	}
	return out, cursor
}

// streamHandler copies every record it sees into a StreamHub before passing
// it on.
type streamHandler struct {
	next  slog.Handler
	hub   *StreamHub
	attrs []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(newLogEvent(record, h.attrs))
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &streamHandler{
		next:  h.next.WithAttrs(attrs),
		hub:   h.hub,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{next: h.next.WithGroup(name), hub: h.hub, attrs: h.attrs}
}

// newLogEvent lifts the well-known keys into typed fields. Record attributes
// are applied after logger attributes so call sites win.
func newLogEvent(record slog.Record, loggerAttrs []slog.Attr) LogEvent {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
		Fields:    map[string]string{},
	}
	for _, attr := range loggerAttrs {
		evt.apply(attr)
	}

	var callAttrs []kv
	record.Attrs(func(attr slog.Attr) bool {
		evt.apply(attr)
		if key := strings.TrimSpace(attr.Key); key != "" {
			callAttrs = append(callAttrs, kv{key: key, value: attr.Value})
		}
		return true
	})
	if info, _ := selectInfoFields(callAttrs, infoAttrLimit, false); len(info) > 0 {
		evt.Details = make([]DetailField, len(info))
		for i, field := range info {
			evt.Details[i] = DetailField{Label: field.label, Value: field.value}
		}
	}
	return evt
}

func (evt *LogEvent) apply(attr slog.Attr) {
	key := strings.TrimSpace(attr.Key)
	switch key {
	case "":
	case FieldJobID:
		evt.JobID = attrString(attr.Value)
	case FieldRowNumber:
		if attr.Value.Kind() == slog.KindInt64 {
			evt.RowNumber = attr.Value.Int64()
		}
	case FieldMethod:
		evt.Method = attrString(attr.Value)
	case FieldCorrelationID:
		evt.CorrelationID = attrString(attr.Value)
	case FieldComponent:
		evt.Component = attrString(attr.Value)
	default:
		evt.Fields[key] = attrString(attr.Value)
	}
}
