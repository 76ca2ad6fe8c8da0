package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	c "github.com/life-stream-dev/life-stream-go-chat-relay/internal/config"
)

const (
	LevelFatal slog.Level = 12
)

// sink is shared by every handler derived through WithAttrs/WithGroup.
type sink struct {
	ch          chan []byte
	writer      io.Writer
	currentDay  int
	currentFile *os.File
	basePath    string
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

type AsyncHandler struct {
	sink     *sink
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

func NewAsyncHandler(basePath string, logLevel slog.Level) *AsyncHandler {
	s := &sink{
		ch:       make(chan []byte, 1024),
		basePath: basePath,
		writer:   os.Stdout,
	}
	if err := s.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable, writing to stdout only: %v\n", err)
	}
	s.wg.Add(1)
	go s.startWorker()
	return &AsyncHandler{sink: s, logLevel: logLevel}
}

func (s *sink) cleanOldLogs() {
	files, _ := filepath.Glob(s.basePath + "/*.log")
	now := time.Now()

	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > 30*24*time.Hour {
			_ = os.Remove(f)
		}
	}
}

func (s *sink) rotateIfNeeded() error {
	now := time.Now()
	currentDay := now.YearDay()

	if currentDay == s.currentDay && s.currentFile != nil {
		return nil
	}

	if s.currentFile != nil {
		if err := s.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		s.currentFile = nil
	}

	logPath := fmt.Sprintf("%s/%s.log", s.basePath, now.Format("2006-01-02"))
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	s.currentFile = f
	s.currentDay = currentDay
	s.writer = io.MultiWriter(os.Stdout, s.currentFile)
	s.cleanOldLogs()
	return nil
}

func (s *sink) startWorker() {
	defer s.wg.Done()
	for data := range s.ch {
		_ = s.rotateIfNeeded()
		_, _ = s.writer.Write(data)
	}
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	line := fmt.Sprintf(
		"%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	)

	prefix := ""
	if h.group != "" {
		prefix = h.group + "."
	}
	for _, attr := range h.attrs {
		line += color.CyanString(fmt.Sprintf(" %s%s=%v", prefix, attr.Key, attr.Value))
	}
	r.Attrs(func(attr slog.Attr) bool {
		line += color.CyanString(fmt.Sprintf(" %s%s=%v", prefix, attr.Key, attr.Value))
		return true
	})

	line += "\n"

	h.Write([]byte(line))
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	return &AsyncHandler{
		sink:     h.sink,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		sink:     h.sink,
		attrs:    h.attrs,
		group:    name,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) Write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	h.sink.ch <- pb
}

func (h *AsyncHandler) Close() error {
	h.sink.closeOnce.Do(func() {
		close(h.sink.ch)
	})
	h.sink.wg.Wait()
	if h.sink.currentFile != nil {
		_ = h.sink.currentFile.Sync()
		return h.sink.currentFile.Close()
	}
	return nil
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return lc.handler.Close()
}

func Init() *ShutdownCallback {
	var handler *AsyncHandler
	config, _ := c.GetConfig()
	if config.DebugMode {
		handler = NewAsyncHandler("logs", slog.LevelDebug)
	} else {
		handler = NewAsyncHandler("logs", slog.LevelInfo)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
