package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// consoleSink serialises writes from every handler derived from one logger.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// consoleHandler renders human-oriented lines:
//
//	2026-01-02 15:04:05 INFO [matcher] Job 3f2a9c1d · Row 42 (openai) – item matched
//	    - Confidence: 0.912
//
// Logger attributes are flattened once in WithAttrs; record attributes are
// flattened per call and override them by key.
type consoleHandler struct {
	sink      *consoleSink
	level     *slog.LevelVar
	addSource bool
	prefix    []kv
	groups    []string
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{sink: &consoleSink{w: w}, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}
	fields := append([]kv(nil), h.prefix...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFlattened(fields, h.groups, attr)
		return true
	})
	fields = lastValueWins(fields)

	var b strings.Builder
	h.writeHeadline(&b, record, fields)
	if record.Level < slog.LevelInfo {
		for _, f := range fields {
			if !skipInfoKey(f.key) {
				fmt.Fprintf(&b, "    %s: %s\n", f.key, formatValue(f.value))
			}
		}
	} else {
		info, hidden := selectInfoFields(fields, 0, true)
		for _, f := range info {
			fmt.Fprintf(&b, "    - %s: %s\n", f.label, f.value)
		}
		switch {
		case hidden == 1:
			b.WriteString("    + 1 more field hidden\n")
		case hidden > 1:
			fmt.Fprintf(&b, "    + %d more fields hidden\n", hidden)
		}
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	_, err := io.WriteString(h.sink.w, b.String())
	return err
}

func (h *consoleHandler) writeHeadline(b *strings.Builder, record slog.Record, fields []kv) {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var component, jobID, row, method string
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = attrString(f.value)
		case FieldJobID:
			jobID = attrString(f.value)
		case FieldRowNumber:
			row = attrString(f.value)
		case FieldMethod:
			method = attrString(f.value)
		}
	}

	b.WriteString(formatTimestamp(ts))
	b.WriteString(" ")
	b.WriteString(levelLabel(record.Level))
	if component != "" {
		fmt.Fprintf(b, " [%s]", component)
	}
	if subject := FormatSubject(jobID, row, method); subject != "" {
		b.WriteString(" " + subject)
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(" – " + msg)
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	b.WriteString("\n")
}

// FormatSubject builds the job/row/method subject used in console output,
// for example "Job 3f2a9c1d · Row 42 (openai)".
func FormatSubject(jobID, row, method string) string {
	jobID = strings.TrimSpace(jobID)
	row = strings.TrimSpace(row)
	method = strings.TrimSpace(method)

	var parts []string
	if jobID != "" {
		parts = append(parts, "Job "+jobID[:min(len(jobID), 8)])
	}
	var item string
	if row != "" {
		item = "Row " + row
	}
	if method != "" {
		item = strings.TrimSpace(item + " (" + method + ")")
	}
	if item != "" {
		parts = append(parts, item)
	}
	return strings.Join(parts, " · ")
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.prefix = append([]kv(nil), h.prefix...)
	for _, attr := range attrs {
		next.prefix = appendFlattened(next.prefix, h.groups, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

type kv struct {
	key   string
	value slog.Value
}

// lastValueWins drops repeated keys, keeping the first position and the last
// value.
func lastValueWins(fields []kv) []kv {
	index := make(map[string]int, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, seen := index[f.key]; seen {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

// appendFlattened expands groups into dotted keys.
func appendFlattened(dst []kv, groups []string, attr slog.Attr) []kv {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	path := groups
	if attr.Key != "" {
		path = append(append([]string(nil), groups...), attr.Key)
	}
	if value.Kind() == slog.KindGroup {
		for _, member := range value.Group() {
			dst = appendFlattened(dst, path, member)
		}
		return dst
	}
	return append(dst, kv{key: strings.Join(path, "."), value: value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
