package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// header is the first line of a console record:
// "<time> <LEVEL> [component] Request #n (source) – message [file:line]".
type header struct {
	time       time.Time
	level      slog.Level
	component  string
	batchIndex string
	source     string
	message    string
	caller     *slog.Source
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	fields := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&fields, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&fields, h.groups, attr)
		return true
	})
	fields = dedupeKVsByKey(fields)

	hdr := header{time: record.Time, level: record.Level, message: strings.TrimSpace(record.Message)}
	if hdr.time.IsZero() {
		hdr.time = time.Now()
	}
	if hdr.message == "" {
		hdr.message = "(no message)"
	}
	if h.addSource {
		hdr.caller = recordSource(record)
	}
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			hdr.component = attrString(f.value)
		case FieldBatchIndex:
			hdr.batchIndex = attrString(f.value)
		case FieldSource:
			hdr.source = attrString(f.value)
		}
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(fields)*32)
	hdr.write(&buf)
	buf.WriteByte('\n')
	if record.Level < slog.LevelInfo {
		writeDebugFields(&buf, fields)
	} else {
		writeInfoFields(&buf, fields)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// writeInfoFields prints the highlighted fields as a bullet list and
// summarizes the rest as a hidden count.
func writeInfoFields(buf *bytes.Buffer, attrs []kv) {
	shown, hidden := selectInfoFields(attrs, infoAttrLimit)
	for _, f := range shown {
		buf.WriteString("    - " + f.label + ": " + f.value + "\n")
	}
	switch {
	case hidden == 1:
		buf.WriteString("    + 1 more field hidden\n")
	case hidden > 1:
		buf.WriteString("    + " + strconv.Itoa(hidden) + " more fields hidden\n")
	}
}

func writeDebugFields(buf *bytes.Buffer, attrs []kv) {
	for _, f := range attrs {
		if f.key == "" || f.key == FieldComponent {
			continue
		}
		buf.WriteString("    " + f.key + ": " + formatValue(f.value) + "\n")
	}
}

func (hdr header) write(buf *bytes.Buffer) {
	buf.WriteString(formatTimestamp(hdr.time))
	buf.WriteString(" " + levelLabel(hdr.level))
	if hdr.component != "" {
		buf.WriteString(" [" + hdr.component + "]")
	}
	if subject := composeSubject(hdr.batchIndex, hdr.source); subject != "" {
		buf.WriteString(" " + subject)
	}
	buf.WriteString(" – " + hdr.message)
	if hdr.caller != nil {
		buf.WriteString(" [" + filepath.Base(hdr.caller.File) + ":" + strconv.Itoa(hdr.caller.Line) + "]")
	}
}

// composeSubject renders "Request #3 (search)" style prefixes for batch work.
func composeSubject(batchIndex, source string) string {
	batchIndex = strings.TrimSpace(batchIndex)
	source = strings.TrimSpace(source)
	switch {
	case batchIndex != "" && source != "":
		return "Request #" + batchIndex + " (" + source + ")"
	case batchIndex != "":
		return "Request #" + batchIndex
	case source != "":
		return "(" + source + ")"
	default:
		return ""
	}
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	clone := &prettyHandler{
		mu:        h.mu,
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
	}
	if len(h.attrs) > 0 {
		clone.attrs = make([]slog.Attr, len(h.attrs))
		copy(clone.attrs, h.attrs)
	}
	if len(h.groups) > 0 {
		clone.groups = make([]string, len(h.groups))
		copy(clone.groups, h.groups)
	}
	return clone
}

type kv struct {
	key   string
	value slog.Value
}

func dedupeKVsByKey(attrs []kv) []kv {
	if len(attrs) < 2 {
		return attrs
	}
	positions := make(map[string]int, len(attrs))
	deduped := make([]kv, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if pos, ok := positions[attr.key]; ok {
			deduped[pos].value = attr.value
			continue
		}
		positions[attr.key] = len(deduped)
		deduped = append(deduped, attr)
	}
	return deduped
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		nextPrefix := prefix
		if attr.Key != "" {
			nextPrefix = append(append([]string(nil), prefix...), attr.Key)
		}
		flattenAttrs(dst, nextPrefix, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
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

// recordSource mirrors slog.Record.Source (Go 1.25+) for older toolchains.
func recordSource(record slog.Record) *slog.Source {
	if record.PC == 0 {
		return nil
	}
	frames := runtime.CallersFrames([]uintptr{record.PC})
	frame, _ := frames.Next()
	return &slog.Source{Function: frame.Function, File: frame.File, Line: frame.Line}
}
