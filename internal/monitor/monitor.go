// Package monitor is the interactive terminal view of the polling engine.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/sdpower/usagebar-go/internal/clock"
	"github.com/sdpower/usagebar-go/internal/output"
	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/projection"
)

// ErrNotTerminal is returned when stdout is not an interactive terminal.
var ErrNotTerminal = errors.New("live monitoring requires an interactive terminal (TTY)")

// Engine is the part of the polling engine the monitor drives.
type Engine interface {
	output.Source
	Subscribe() (<-chan struct{}, func())
	TriggerManualFetch()
	SetRefreshInterval(seconds int) error
	SetNotificationsEnabled(enabled bool)
}

type Options struct {
	NoColor bool
	Clock   clock.Clock
	// OnSettingsChanged is called after the user changes the interval or
	// the notification toggle.
	OnSettingsChanged func(intervalSec int, notifications bool)
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Run shows the monitor until the user quits or ctx is done. sink, when not
// nil, is attached to the program so usage warnings appear as banners.
func Run(ctx context.Context, engine Engine, sink *Sink, opts Options) error {
	if !IsTerminal() {
		return ErrNotTerminal
	}

	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(
		NewModel(engine, updates, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if sink != nil {
		sink.Attach(p)
		defer sink.Attach(nil)
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

type stateChangedMsg struct{}

type engineClosedMsg struct{}

type clockTickMsg time.Time

type notificationMsg struct {
	title string
	body  string
}

type flashExpiredMsg struct{ seq int }

const flashDuration = 8 * time.Second

// Model is the bubbletea model.
type Model struct {
	engine  Engine
	updates <-chan struct{}
	options Options

	report   output.Report
	width    int
	flash    string
	flashSeq int
	quitting bool
}

func NewModel(engine Engine, updates <-chan struct{}, opts Options) Model {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return Model{
		engine:  engine,
		updates: updates,
		options: opts,
		report:  buildReport(engine, opts.Clock.Now()),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.updates),
		clockTickCmd(),
		tea.WindowSize(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case stateChangedMsg:
		m.refresh()
		return m, waitForChange(m.updates)

	case engineClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case clockTickMsg:
		m.refresh()
		return m, clockTickCmd()

	case notificationMsg:
		return m.setFlash(fmt.Sprintf("%s: %s", msg.title, msg.body))

	case flashExpiredMsg:
		if msg.seq == m.flashSeq {
			m.flash = ""
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "r":
		m.engine.TriggerManualFetch()
		return m.setFlash("Refreshing...")

	case "+", "=":
		return m.stepInterval(1)

	case "-", "_":
		return m.stepInterval(-1)

	case "n":
		enabled := !m.report.NotificationsEnabled
		m.engine.SetNotificationsEnabled(enabled)
		m.report.NotificationsEnabled = enabled
		m.settingsChanged()
		if enabled {
			return m.setFlash("Notifications on")
		}
		return m.setFlash("Notifications off")
	}
	return m, nil
}

func (m Model) stepInterval(dir int) (tea.Model, tea.Cmd) {
	idx := slices.Index(poller.AllowedIntervals, m.report.RefreshIntervalSec)
	if idx < 0 {
		idx = slices.Index(poller.AllowedIntervals, int(poller.DefaultInterval/time.Second))
	}
	next := idx + dir
	if next < 0 || next >= len(poller.AllowedIntervals) {
		return m, nil
	}

	seconds := poller.AllowedIntervals[next]
	if err := m.engine.SetRefreshInterval(seconds); err != nil {
		return m.setFlash(err.Error())
	}
	m.report.RefreshIntervalSec = seconds
	m.settingsChanged()
	return m.setFlash(fmt.Sprintf("Refresh every %s", formatInterval(seconds)))
}

func (m *Model) settingsChanged() {
	if m.options.OnSettingsChanged != nil {
		m.options.OnSettingsChanged(m.report.RefreshIntervalSec, m.report.NotificationsEnabled)
	}
}

func (m Model) setFlash(text string) (tea.Model, tea.Cmd) {
	m.flashSeq++
	m.flash = text
	seq := m.flashSeq
	return m, tea.Tick(flashDuration, func(time.Time) tea.Msg { return flashExpiredMsg{seq: seq} })
}

func (m *Model) refresh() {
	m.report = buildReport(m.engine, m.options.Clock.Now())
}

// buildReport re-projects the snapshot at now so remaining times and window
// progress advance on every clock tick, not only when a fetch lands.
func buildReport(engine Engine, now time.Time) output.Report {
	report := output.BuildReport(engine, now)
	if usages := projection.All(engine.State().Snapshot, now); len(usages) > 0 {
		report.Usages = usages
		report.Highest = projection.Max(usages)
	}
	return report
}

func waitForChange(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return engineClosedMsg{}
		}
		return stateChangedMsg{}
	}
}

func clockTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockTickMsg(t)
	})
}

func formatInterval(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm", seconds/60)
}
