package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/jalho/rad/internal/logger"
	"github.com/jalho/rad/internal/process"
)

// Rotation defaults for FileSink.
const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 14
)

// FileConfig configures an append-only output file with rotation.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// FileSink writes one timestamped line per output record:
//
//	2025-01-02T15:04:05.123456789Z [stdout] text
type FileSink struct {
	mu  sync.Mutex
	w   io.WriteCloser
	log *slog.Logger
	// failed suppresses repeated write-error logs until a write succeeds.
	failed bool
}

// NewFileSink opens a lumberjack-rotated file. The file is created lazily
// on first write.
func NewFileSink(cfg FileConfig, log *slog.Logger) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("output file path is empty")
	}
	return NewWriterSink(&lj.Logger{
		Filename:   cfg.Path,
		MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}, log), nil
}

// NewWriterSink formats lines into an arbitrary writer.
func NewWriterSink(w io.WriteCloser, log *slog.Logger) *FileSink {
	if log == nil {
		log = slog.Default()
	}
	return &FileSink{w: w, log: log}
}

// Format renders a line the way FileSink writes it, without the newline.
func Format(line process.OutputLine) string {
	return line.ObservedAt.UTC().Format(time.RFC3339Nano) + " [" + line.Origin.String() + "] " + line.Text
}

func (f *FileSink) Deliver(line process.OutputLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.WriteString(f.w, Format(line)+"\n"); err != nil {
		if !f.failed {
			f.log.Warn("output file write failed", "error", err)
		}
		f.failed = true
		return
	}
	f.failed = false
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Close()
}

// LogSink forwards lines to a structured logger.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (l LogSink) Deliver(line process.OutputLine) {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.Log(context.Background(), l.Level, line.Text, logger.StreamKey, line.Origin.String())
}

// Recent keeps the last N lines for status queries.
type Recent struct {
	mu    sync.RWMutex
	lines []process.OutputLine
	next  int
	full  bool
}

func NewRecent(n int) *Recent {
	if n <= 0 {
		n = 100
	}
	return &Recent{lines: make([]process.OutputLine, n)}
}

func (r *Recent) Deliver(line process.OutputLine) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Lines returns up to limit of the most recent lines, oldest first.
// limit <= 0 returns everything held.
func (r *Recent) Lines(limit int) []process.OutputLine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []process.OutputLine
	if r.full {
		out = append(out, r.lines[r.next:]...)
	}
	out = append(out, r.lines[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
