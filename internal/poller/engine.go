// Package poller runs the usage polling loop: the periodic timer, manual
// refreshes, retries, one-shot re-authentication and network recovery. All
// mutable state is owned by a single goroutine; readers get copies.
package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdpower/usagebar-go/internal/clock"
	"github.com/sdpower/usagebar-go/internal/credential"
	"github.com/sdpower/usagebar-go/internal/metrics"
	"github.com/sdpower/usagebar-go/internal/notify"
	"github.com/sdpower/usagebar-go/internal/retry"
	"github.com/sdpower/usagebar-go/internal/types"
)

const DefaultInterval = 60 * time.Second

// AllowedIntervals are the refresh intervals, in seconds, a user may pick.
var AllowedIntervals = []int{30, 60, 120, 300, 600}

// ValidInterval reports whether seconds is one of AllowedIntervals.
func ValidInterval(seconds int) bool {
	return slices.Contains(AllowedIntervals, seconds)
}

// Fetcher performs one usage request.
type Fetcher interface {
	Fetch(ctx context.Context, token string) (*types.UsageSnapshot, error)
}

// NetworkWatcher reports availability changes until ctx is done.
type NetworkWatcher interface {
	Run(ctx context.Context, onChange func(available bool)) error
}

type Options struct {
	Fetcher     Fetcher
	Credentials credential.Provider

	// Notifier receives high-usage warnings. Nil disables delivery.
	Notifier notify.Sink
	// Policy defaults to notify.NewPolicy().
	Policy *notify.Policy

	// Network is optional; without it the network is assumed available
	// unless SetNetworkAvailable says otherwise.
	Network NetworkWatcher

	Clock                clock.Clock
	Interval             time.Duration
	NotificationsEnabled bool
	Retry                retry.Policy

	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

type Engine struct {
	fetcher     Fetcher
	credentials credential.Provider
	notifier    notify.Sink
	policy      *notify.Policy
	network     NetworkWatcher
	clock       clock.Clock
	scheduler   *retry.Scheduler
	logger      *zap.Logger
	metrics     *metrics.Recorder

	// owned by the loop goroutine
	token                string
	interval             time.Duration
	notificationsEnabled bool
	timer                clock.Timer
	gen                  uint64

	ticks    chan uint64
	manual   chan struct{}
	retries  chan retry.Handle
	networks chan bool
	commands chan func()

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex
	closed  sync.Once

	mu      sync.RWMutex
	state   State
	version uint64
	cycles  uint64

	memoMu sync.Mutex
	memo   memo

	subsMu sync.Mutex
	subs   map[int]chan struct{}
	subSeq int
}

func New(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("poller: fetcher is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("poller: credential provider is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Policy == nil {
		opts.Policy = notify.NewPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		fetcher:              opts.Fetcher,
		credentials:          opts.Credentials,
		notifier:             opts.Notifier,
		policy:               opts.Policy,
		network:              opts.Network,
		clock:                opts.Clock,
		scheduler:            retry.NewScheduler(opts.Clock, opts.Retry),
		logger:               opts.Logger,
		metrics:              opts.Metrics,
		interval:             opts.Interval,
		notificationsEnabled: opts.NotificationsEnabled,
		ticks:                make(chan uint64),
		manual:               make(chan struct{}, 1),
		retries:              make(chan retry.Handle),
		networks:             make(chan bool),
		commands:             make(chan func(), 8),
		ctx:                  ctx,
		cancel:               cancel,
		done:                 make(chan struct{}),
		subs:                 make(map[int]chan struct{}),
	}
	e.state = State{
		IsNetworkAvailable:   true,
		RefreshInterval:      opts.Interval,
		NotificationsEnabled: opts.NotificationsEnabled,
	}
	e.metrics.SetNetworkAvailable(true)
	return e, nil
}

// Start launches the loop, which fetches immediately and then on every
// interval. The engine stops when ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started || e.ctx.Err() != nil {
		return
	}
	e.started = true

	stop := context.AfterFunc(ctx, e.cancel)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stop()
		e.run()
	}()

	if e.network != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.network.Run(e.ctx, e.SetNetworkAvailable); err != nil {
				e.logger.Warn("network monitor stopped", zap.Error(err))
			}
		}()
	}
}

// Close stops the timer, any pending retry and the network monitor, waits
// for the loop to exit and closes every subscription channel.
func (e *Engine) Close() error {
	e.closed.Do(func() {
		e.startMu.Lock()
		started := e.started
		e.started = true
		e.startMu.Unlock()

		e.cancel()
		if started {
			e.wg.Wait()
		} else {
			close(e.done)
		}

		e.subsMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsMu.Unlock()
	})
	return nil
}

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// TriggerManualFetch requests a refresh. Requests made while one is already
// queued are merged.
func (e *Engine) TriggerManualFetch() {
	select {
	case e.manual <- struct{}{}:
	default:
	}
}

// SetRefreshInterval changes the periodic interval and re-arms the timer
// without fetching.
func (e *Engine) SetRefreshInterval(seconds int) error {
	if !ValidInterval(seconds) {
		return types.ValidationError{
			Field:   "refresh_interval",
			Message: fmt.Sprintf("%d is not one of %v", seconds, AllowedIntervals),
		}
	}
	d := time.Duration(seconds) * time.Second
	e.submit(func() {
		if d == e.interval {
			return
		}
		e.interval = d
		e.armTimer()
		e.logger.Info("refresh interval changed", zap.Duration("interval", d))
		e.publish(func(s *State) { s.RefreshInterval = d })
	})
	return nil
}

func (e *Engine) SetNotificationsEnabled(enabled bool) {
	e.submit(func() {
		e.notificationsEnabled = enabled
		e.publish(func(s *State) { s.NotificationsEnabled = enabled })
	})
}

// SetNetworkAvailable feeds an availability observation into the loop. A
// transition from unavailable to available resets the retry counter and
// fetches. Before Start the observation only sets the initial state.
func (e *Engine) SetNetworkAvailable(available bool) {
	e.startMu.Lock()
	if !e.started {
		e.metrics.SetNetworkAvailable(available)
		e.publish(func(s *State) { s.IsNetworkAvailable = available })
		e.startMu.Unlock()
		return
	}
	e.startMu.Unlock()

	select {
	case e.networks <- available:
	case <-e.ctx.Done():
	}
}

func (e *Engine) submit(cmd func()) {
	select {
	case e.commands <- cmd:
	case <-e.ctx.Done():
	}
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.teardown()

	e.armTimer()
	e.fetch("start")

	for {
		select {
		case <-e.ctx.Done():
			return
		case gen := <-e.ticks:
			if gen != e.gen {
				continue
			}
			e.armTimer()
			e.fetch("tick")
		case <-e.manual:
			e.fetch("manual")
		case h := <-e.retries:
			if !e.scheduler.Claim(h) {
				e.logger.Debug("dropping cancelled retry")
				continue
			}
			e.attempt("retry")
		case available := <-e.networks:
			e.handleNetwork(available)
		case cmd := <-e.commands:
			cmd()
		}
	}
}

func (e *Engine) teardown() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.scheduler.Cancel()
}

func (e *Engine) armTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = e.clock.AfterFunc(e.interval, func() {
		select {
		case e.ticks <- gen:
		case <-e.ctx.Done():
		}
	})
}

func (e *Engine) fireRetry(h retry.Handle) {
	select {
	case e.retries <- h:
	case <-e.ctx.Done():
	}
}

// handleNetwork ignores observations that match the published state.
func (e *Engine) handleNetwork(available bool) {
	e.metrics.SetNetworkAvailable(available)

	e.mu.RLock()
	was := e.state.IsNetworkAvailable
	e.mu.RUnlock()
	if was == available {
		return
	}

	e.logger.Info("network availability changed", zap.Bool("available", available))
	e.publish(func(s *State) { s.IsNetworkAvailable = available })
	if available {
		e.scheduler.Reset()
		e.fetch("network")
	}
}
