package poller

import (
	"time"

	"github.com/sdpower/usagebar-go/internal/projection"
	"github.com/sdpower/usagebar-go/internal/types"
)

// State is a copy of what the engine has published.
type State struct {
	Snapshot           *types.UsageSnapshot
	IsLoading          bool
	LastError          error
	LastUpdated        *time.Time
	IsNetworkAvailable bool

	RefreshInterval      time.Duration
	NotificationsEnabled bool
}

type memo struct {
	valid   bool
	version uint64
	all     []projection.DisplayUsage
	top     projection.DisplayUsage
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.state
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		s.LastUpdated = &t
	}
	return s
}

// AllDisplayUsages projects every present limit. The result is computed once
// per snapshot.
func (e *Engine) AllDisplayUsages() []projection.DisplayUsage {
	m := e.memoized()
	out := make([]projection.DisplayUsage, len(m.all))
	copy(out, m.all)
	return out
}

// MaxDisplayUsage is the usage with the highest percentage, or
// projection.ZeroUsage when there is none.
func (e *Engine) MaxDisplayUsage() projection.DisplayUsage {
	return e.memoized().top
}

func (e *Engine) memoized() memo {
	e.mu.RLock()
	snapshot, version := e.state.Snapshot, e.version
	e.mu.RUnlock()

	e.memoMu.Lock()
	defer e.memoMu.Unlock()
	if e.memo.valid && e.memo.version == version {
		return e.memo
	}
	all := projection.All(snapshot, e.clock.Now())
	e.memo = memo{valid: true, version: version, all: all, top: projection.Max(all)}
	return e.memo
}

// TimeProgress is the elapsed fraction of the five-hour window, or 0.
func (e *Engine) TimeProgress() float64 {
	u, ok := e.primary()
	if !ok {
		return 0
	}
	return u.TimeProgress
}

// PrimaryStatus is the status of the five-hour limit, Normal when absent.
func (e *Engine) PrimaryStatus() projection.Status {
	u, ok := e.primary()
	if !ok {
		return projection.StatusNormal
	}
	return u.Status
}

// PrimaryPercentage is the five-hour percentage for the at-a-glance label,
// rounded with projection.PrimaryPercentage. It is 0 when absent.
func (e *Engine) PrimaryPercentage() int {
	e.mu.RLock()
	snapshot := e.state.Snapshot
	e.mu.RUnlock()
	limit := snapshot.Limit(types.LimitFiveHour)
	if limit == nil {
		return 0
	}
	return projection.PrimaryPercentage(limit.Utilization)
}

func (e *Engine) LastUpdatedText() string {
	e.mu.RLock()
	last := e.state.LastUpdated
	e.mu.RUnlock()
	return projection.LastUpdatedText(last, e.clock.Now())
}

func (e *Engine) primary() (projection.DisplayUsage, bool) {
	e.mu.RLock()
	snapshot := e.state.Snapshot
	e.mu.RUnlock()
	return projection.Primary(snapshot, e.clock.Now())
}

// Subscribe returns a channel that receives a value after every state
// change. Bursts are merged, so readers should call State when woken. The
// channel is closed by Close or by the returned cancel function.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	e.subsMu.Lock()
	select {
	case <-e.done:
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	e.subSeq++
	id := e.subSeq
	e.subs[id] = ch
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}

func (e *Engine) broadcast() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
