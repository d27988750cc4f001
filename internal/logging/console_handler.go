package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one line per record. Component, stream, generation
// and session are lifted out of the attributes into the prefix:
//
//	2026-01-02T15:04:05Z INFO supervisor [video#3 3f2a9c1e]: process started pid=42
type consoleHandler struct {
	out *consoleOutput
	// fields holds WithAttrs values already flattened under their group.
	fields []field
	group  string
}

type consoleOutput struct {
	mu     sync.Mutex
	w      io.Writer
	level  *slog.LevelVar
	source bool
}

type field struct {
	key   string
	value slog.Value
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{out: &consoleOutput{w: w, level: lvl, source: addSource}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.out.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	fields := appendFields(h.fields[:len(h.fields):len(h.fields)], h.group, attrs)
	return &consoleHandler{out: h.out, fields: fields, group: h.group}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &consoleHandler{out: h.out, fields: h.fields, group: h.group + name + "."}
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}

	fields := make([]field, 0, len(h.fields)+record.NumAttrs())
	fields = append(fields, h.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFields(fields, h.group, []slog.Attr{attr})
		return true
	})

	var head linePrefix
	tail := fields[:0]
	for _, f := range fields {
		if !head.take(f) {
			tail = append(tail, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var line bytes.Buffer
	line.WriteString(ts.UTC().Format(time.RFC3339))
	line.WriteString(" " + levelLabel(record.Level) + " ")
	head.write(&line)

	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	line.WriteString(msg)

	if src := record.Source(); h.out.source && src != nil {
		fmt.Fprintf(&line, " (%s:%d)", filepath.Base(src.File), src.Line)
	}
	for _, f := range tail {
		line.WriteString(" " + f.key + "=" + formatValue(f.value))
	}
	line.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(line.Bytes())
	return err
}

// appendFields flattens attrs, joining nested group keys with dots.
func appendFields(dst []field, group string, attrs []slog.Attr) []field {
	for _, attr := range attrs {
		value := attr.Value.Resolve()
		switch {
		case attr.Equal(slog.Attr{}):
		case value.Kind() == slog.KindGroup:
			inner := group
			if attr.Key != "" {
				inner += attr.Key + "."
			}
			dst = appendFields(dst, inner, value.Group())
		default:
			dst = append(dst, field{key: group + attr.Key, value: value})
		}
	}
	return dst
}

// linePrefix collects the attributes shown ahead of the message.
type linePrefix struct {
	component  string
	stream     string
	generation string
	session    string
}

func (p *linePrefix) take(f field) bool {
	var dst *string
	switch f.key {
	case FieldComponent:
		dst = &p.component
	case FieldStream:
		dst = &p.stream
	case FieldGeneration:
		dst = &p.generation
	case FieldSessionID:
		dst = &p.session
	default:
		return false
	}
	if *dst == "" {
		*dst = formatValue(f.value)
	}
	return true
}

func (p linePrefix) write(buf *bytes.Buffer) {
	var tags []string
	if p.stream != "" {
		tag := p.stream
		if p.generation != "" {
			tag += "#" + p.generation
		}
		tags = append(tags, tag)
	}
	if p.session != "" {
		tags = append(tags, shortSession(p.session))
	}
	if p.component == "" && len(tags) == 0 {
		return
	}
	buf.WriteString(p.component)
	if len(tags) > 0 {
		if p.component != "" {
			buf.WriteByte(' ')
		}
		buf.WriteString("[" + strings.Join(tags, " ") + "]")
	}
	buf.WriteString(": ")
}

func shortSession(id string) string {
	id = strings.Trim(id, `"`)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindBool, slog.KindInt64, slog.KindUint64, slog.KindDuration:
		return v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
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
