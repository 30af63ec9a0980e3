package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// RetentionDays is how long rotated log files are kept.
	RetentionDays = 7
	dateLayout    = "2006-01-02"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides stdout for the text handler. Tests use io.Discard.
	Console io.Writer
}

// Logger writes JSON records to a daily-rotated file and coloured, tagged
// text records to the console.
type Logger struct {
	cfg         Config
	level       slog.Level
	jsonLogger  *slog.Logger
	textLogger  *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger and starts its rotation checker.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.Filename == "" {
		cfg.Filename = "server.log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(cfg.Dir, cfg.Filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	level := parseLevel(cfg.Level)
	l := &Logger{
		cfg:         cfg,
		level:       level,
		jsonLogger:  slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})),
		textLogger:  slog.New(&consoleHandler{writer: console, level: level}),
		logFile:     file,
		currentDate: time.Now().Format(dateLayout),
		stopCh:      make(chan struct{}),
	}
	l.startRotationChecker()
	return l, nil
}

func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate(time.Now())
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate(now time.Time) {
	today := now.Format(dateLayout)
	l.mu.RLock()
	same := today == l.currentDate
	l.mu.RUnlock()
	if same {
		return
	}
	l.rotate(today)
	l.cleanOldLogs(now)
}

// rotate archives the active file as <base>-<date><ext> and reopens it.
func (l *Logger) rotate(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}

	current := filepath.Join(l.cfg.Dir, l.cfg.Filename)
	ext := filepath.Ext(l.cfg.Filename)
	base := strings.TrimSuffix(l.cfg.Filename, ext)
	archived := filepath.Join(l.cfg.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))

	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, archived); err != nil {
			l.textLogger.Error("rename log file failed", slog.String("error", err.Error()))
		}
	}

	file, err := os.OpenFile(current, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.textLogger.Error("reopen log file failed", slog.String("error", err.Error()))
		return
	}
	l.logFile = file
	l.currentDate = newDate
	l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level}))
	l.textLogger.Info("log file rotated", slog.String("new_date", newDate))
}

func (l *Logger) cleanOldLogs(now time.Time) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		l.textLogger.Error("read log dir failed", slog.String("error", err.Error()))
		return
	}

	cutoff := now.AddDate(0, 0, -RetentionDays)
	ext := filepath.Ext(l.cfg.Filename)
	base := strings.TrimSuffix(l.cfg.Filename, ext)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		date, err := time.Parse(dateLayout, strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), ext))
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.cfg.Dir, name)); err != nil {
			l.textLogger.Error("remove old log failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// Close stops rotation and closes the log file. Safe to call twice.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
		}
	})
	return err
}

// log accepts either a single map of fields or slog-style key/value pairs.
func (l *Logger) log(level slog.Level, msg string, fields ...any) {
	if l == nil || level < l.level {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	attrs := toAttrs(fields)
	ctx := context.Background()
	l.jsonLogger.LogAttrs(ctx, level, msg, attrs...)
	l.textLogger.LogAttrs(ctx, level, msg, attrs...)
}

func toAttrs(fields []any) []slog.Attr {
	if len(fields) == 0 || fields[0] == nil {
		return nil
	}
	if m, ok := fields[0].(map[string]any); ok && len(fields) == 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]slog.Attr, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, m[k]))
		}
		return attrs
	}

	var attrs []slog.Attr
	for i := 0; i < len(fields); i++ {
		switch v := fields[i].(type) {
		case slog.Attr:
			attrs = append(attrs, v)
		case string:
			if i+1 < len(fields) {
				attrs = append(attrs, slog.Any(v, fields[i+1]))
				i++
			} else {
				attrs = append(attrs, slog.String("!BADKEY", v))
			}
		default:
			attrs = append(attrs, slog.Any("fields", v))
		}
	}
	return attrs
}

func (l *Logger) emit(level slog.Level, msg string, args ...any) {
	if len(args) > 0 && strings.Contains(msg, "%") {
		l.log(level, fmt.Sprintf(msg, args...))
		return
	}
	l.log(level, msg, args...)
}

// Debug, Info, Warn and Error treat msg as a format string when it contains
// a verb, otherwise args are structured fields.
func (l *Logger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args...) }

// FormatLog prefixes message with a single category tag:
// FormatLog("TTS", "ready") -> "[TTS] ready". Messages that already start
// with "[" are returned as is.
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.emit(slog.LevelDebug, FormatLog(tag, msg), args...)
}

func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.emit(slog.LevelInfo, FormatLog(tag, msg), args...)
}

func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.emit(slog.LevelWarn, FormatLog(tag, msg), args...)
}

func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.emit(slog.LevelError, FormatLog(tag, msg), args...)
}

// Slog exposes the console logger for slog-native integrations.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}
