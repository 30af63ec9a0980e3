package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

var tagColors = map[string]string{
	"[BOOT]":          "\x1b[96m",
	"[HTTP]":          "\x1b[95m",
	"[TTS]":           "\x1b[95m",
	"[VOICE]":         "\x1b[35m",
	"[CALL]":          "\x1b[92m",
	"[LEDGER]":        "\x1b[34m",
	"[STORAGE]":       "\x1b[94m",
	"[OBSERVABILITY]": "\x1b[90m",
}

// consoleHandler renders records as "[time] [LEVEL] msg { k=v }", or
// "[time] [TAG] msg" when the message carries a known tag.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := r.Time.Format("2006-01-02 15:04:05.000")

	var b strings.Builder
	if color, ok := tagColor(r.Message); ok {
		fmt.Fprintf(&b, "%s[%s]%s %s%s%s", colorTime, ts, colorReset, color, r.Message, colorReset)
	} else {
		fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s %s", colorTime, ts, colorReset,
			levelColor(r.Level), r.Level.String(), colorReset, r.Message)
	}

	if r.NumAttrs() > 0 {
		b.WriteString(" {")
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }

func tagColor(msg string) (string, bool) {
	if !strings.HasPrefix(msg, "[") {
		return "", false
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return "", false
	}
	color, ok := tagColors[msg[:end+1]]
	return color, ok
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorError
	case level >= slog.LevelWarn:
		return colorWarn
	case level >= slog.LevelInfo:
		return colorInfo
	default:
		return colorDebug
	}
}
