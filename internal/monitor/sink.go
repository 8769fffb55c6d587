package monitor

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Sink shows usage warnings as a banner in a running monitor. It drops
// notifications while no program is attached.
type Sink struct {
	mu      sync.Mutex
	program *tea.Program
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = p
}

func (s *Sink) Notify(_ context.Context, title, body string) error {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		go p.Send(notificationMsg{title: title, body: body})
	}
	return nil
}
