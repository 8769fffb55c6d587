package notify

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// LogSink writes notifications to the log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Notify(_ context.Context, title, body string) error {
	if s.Logger != nil {
		s.Logger.Warn(title, zap.String("body", body))
	}
	return nil
}

// MultiSink fans a notification out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message is a delivered notification.
type Message struct {
	Title string
	Body  string
}

// MemorySink keeps notifications in memory.
type MemorySink struct {
	mu   sync.Mutex
	sent []Message
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Notify(_ context.Context, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Message{Title: title, Body: body})
	return nil
}

// Sent returns a copy of every notification received so far.
func (s *MemorySink) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// DesktopSink raises an OS notification through osascript on macOS or
// notify-send elsewhere.
type DesktopSink struct {
	GOOS string
	Run  Runner
}

func (s DesktopSink) Notify(ctx context.Context, title, body string) error {
	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	run := s.Run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}

	switch goos {
	case "darwin":
		script := "display notification " + strconv.Quote(body) + " with title " + strconv.Quote(title)
		return run(ctx, "osascript", "-e", script)
	case "linux", "freebsd", "openbsd":
		return run(ctx, "notify-send", "--urgency=critical", title, body)
	default:
		return nil
	}
}
