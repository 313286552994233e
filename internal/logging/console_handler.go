package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// consoleHandler writes one header line per record followed by indented
// fields: every field at debug level, a curated subset above it.
//
//	2026-03-14 20:00:00 INFO [relay] Attempt #2 (source) – source opened
//	    - State: streaming
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newConsoleHandler(w io.Writer, level *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}

	fields := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&fields, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&fields, h.groups, attr)
		return true
	})
	fields = dedupeKVsByKey(fields)

	var sb strings.Builder
	sb.Grow(256 + len(fields)*32)
	h.writeHeader(&sb, record, fields)
	if record.Level < slog.LevelInfo {
		writeDebugFields(&sb, fields)
	} else {
		writeInfoFields(&sb, fields)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *consoleHandler) writeHeader(sb *strings.Builder, record slog.Record, fields []kv) {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var component, attempt, stage string
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = attrString(f.value)
		case FieldAttempt:
			attempt = strings.TrimSpace(attrString(f.value))
		case FieldStage:
			stage = strings.TrimSpace(attrString(f.value))
		}
	}

	sb.WriteString(formatTimestamp(ts))
	sb.WriteString(" " + levelLabel(record.Level))
	if component != "" {
		sb.WriteString(" [" + component + "]")
	}
	switch {
	case attempt != "" && stage != "":
		sb.WriteString(" Attempt #" + attempt + " (" + stage + ")")
	case attempt != "":
		sb.WriteString(" Attempt #" + attempt)
	case stage != "":
		sb.WriteString(" " + stage)
	}

	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}
	sb.WriteString(" – " + message)
	if src := record.Source(); h.addSource && src != nil && src.File != "" {
		sb.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
	}
	sb.WriteByte('\n')
}

func writeDebugFields(sb *strings.Builder, fields []kv) {
	for _, f := range fields {
		if f.key == "" || f.key == FieldComponent {
			continue
		}
		sb.WriteString("    " + f.key + ": " + formatValue(f.value) + "\n")
	}
}

func writeInfoFields(sb *strings.Builder, fields []kv) {
	shown, hidden := selectInfoFields(fields, infoAttrLimit)
	for _, f := range shown {
		sb.WriteString("    - " + f.label + ": " + f.value + "\n")
	}
	switch {
	case hidden == 1:
		sb.WriteString("    + 1 more field hidden\n")
	case hidden > 1:
		sb.WriteString("    + " + strconv.Itoa(hidden) + " more fields hidden\n")
	}
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

func (h *consoleHandler) clone() *consoleHandler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	next.groups = append([]string(nil), h.groups...)
	return &next
}

type kv struct {
	key   string
	value slog.Value
}

// dedupeKVsByKey keeps the first position of each key with its last value.
func dedupeKVsByKey(fields []kv) []kv {
	if len(fields) < 2 {
		return fields
	}
	index := make(map[string]int, len(fields))
	out := make([]kv, 0, len(fields))
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

// flattenAttr expands groups into dotted keys.
func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	value := attr.Value.Resolve()
	path := prefix
	if attr.Key != "" {
		path = append(append([]string(nil), prefix...), attr.Key)
	}
	if value.Kind() == slog.KindGroup {
		flattenAttrs(dst, path, value.Group())
		return
	}
	*dst = append(*dst, kv{key: strings.Join(path, "."), value: value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimeLayout)
}
