package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/usagebar-go/internal/clock"
	"github.com/sdpower/usagebar-go/internal/metrics"
	"github.com/sdpower/usagebar-go/internal/notify"
	"github.com/sdpower/usagebar-go/internal/projection"
	"github.com/sdpower/usagebar-go/internal/types"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type result struct {
	snapshot *types.UsageSnapshot
	err      error
}

// fakeFetcher replays results in order and repeats the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []result
	byToken map[string]result
	tokens  []string
	gate    chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, token string) (*types.UsageSnapshot, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	gate := f.gate
	var r result
	if byToken, ok := f.byToken[token]; ok {
		r = byToken
	} else if len(f.results) > 0 {
		r = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &types.APIError{Kind: types.KindNetwork, Err: ctx.Err()}
		}
	}
	return r.snapshot, r.err
}

func (f *fakeFetcher) push(rs ...result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = rs
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeFetcher) seenTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

type fakeProvider struct {
	mu          sync.Mutex
	tokens      []string
	err         error
	lookups     int
	invalidated int
}

func (p *fakeProvider) Token(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++
	if p.err != nil {
		return "", p.err
	}
	if len(p.tokens) == 0 {
		return "", types.ErrCredentialNotFound
	}
	tok := p.tokens[0]
	if len(p.tokens) > 1 {
		p.tokens = p.tokens[1:]
	}
	return tok, nil
}

func (p *fakeProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}

func (p *fakeProvider) counts() (lookups, invalidated int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookups, p.invalidated
}

func ok(fiveHour float64) result {
	return result{snapshot: &types.UsageSnapshot{FiveHour: &types.UsageLimit{Utilization: fiveHour}}}
}

func fail(kind types.ErrorKind, code int) result {
	return result{err: &types.APIError{Kind: kind, StatusCode: code}}
}

type harness struct {
	engine   *Engine
	clock    *clock.Fake
	fetcher  *fakeFetcher
	provider *fakeProvider
	sink     *notify.MemorySink
}

func newHarness(t *testing.T, mutate func(*Options), results ...result) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewFake(epoch),
		fetcher:  &fakeFetcher{results: results},
		provider: &fakeProvider{tokens: []string{"token"}},
		sink:     notify.NewMemorySink(),
	}
	opts := Options{
		Fetcher:              h.fetcher,
		Credentials:          h.provider,
		Notifier:             h.sink,
		Clock:                h.clock,
		Interval:             time.Minute,
		NotificationsEnabled: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(func() { _ = e.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.engine.Start(context.Background())
	h.waitCycles(t, 1)
}

func (h *harness) cycles() uint64 {
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	return h.engine.cycles
}

func (h *harness) waitCycles(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.cycles() >= n }, 2*time.Second, time.Millisecond,
		"expected %d fetch cycles, got %d", n, h.cycles())
	require.Equal(t, n, h.cycles())
}

func (h *harness) manual(t *testing.T) {
	t.Helper()
	next := h.cycles() + 1
	h.engine.TriggerManualFetch()
	h.waitCycles(t, next)
}

func apiErr(t *testing.T, err error) *types.APIError {
	t.Helper()
	e, ok := types.AsAPIError(err)
	require.True(t, ok, "expected *types.APIError, got %v", err)
	return e
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Credentials: &fakeProvider{}})
	assert.Error(t, err)

	_, err = New(Options{Fetcher: &fakeFetcher{}})
	assert.Error(t, err)
}

func TestInitialFetchPublishesSnapshot(t *testing.T) {
	h := newHarness(t, nil, ok(42.4))
	h.start(t)

	s := h.engine.State()
	require.NotNil(t, s.Snapshot)
	assert.False(t, s.IsLoading)
	assert.NoError(t, s.LastError)
	require.NotNil(t, s.LastUpdated)
	assert.Equal(t, epoch, *s.LastUpdated)
	assert.True(t, s.IsNetworkAvailable)
	assert.Equal(t, time.Minute, s.RefreshInterval)

	assert.Equal(t, 43, h.engine.PrimaryPercentage())
	assert.Equal(t, projection.StatusNormal, h.engine.PrimaryStatus())
	assert.Equal(t, "0s ago", h.engine.LastUpdatedText())

	h.clock.Advance(30 * time.Second)
	assert.Equal(t, "30s ago", h.engine.LastUpdatedText())
	assert.Equal(t, 1, h.fetcher.calls())
}

func TestPeriodicTickFetches(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	h.start(t)
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Pending())

	h.clock.Advance(time.Minute)
	h.waitCycles(t, 2)
	assert.Equal(t, 2, h.fetcher.calls())
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Pending())
}

func TestRetryBackoffThenReset(t *testing.T) {
	h := newHarness(t, nil, fail(types.KindServer, 503))
	h.start(t)
	assert.Equal(t, []time.Duration{2 * time.Second, 60 * time.Second}, h.clock.Pending())

	h.clock.Advance(2 * time.Second)
	h.waitCycles(t, 2)
	assert.Equal(t, []time.Duration{4 * time.Second, 58 * time.Second}, h.clock.Pending())

	h.clock.Advance(4 * time.Second)
	h.waitCycles(t, 3)
	assert.Equal(t, []time.Duration{8 * time.Second, 54 * time.Second}, h.clock.Pending())

	h.clock.Advance(8 * time.Second)
	h.waitCycles(t, 4)
	assert.Equal(t, []time.Duration{46 * time.Second}, h.clock.Pending(), "no retry after the third")
	assert.Equal(t, 0, h.engine.scheduler.Attempt())
	assert.Equal(t, 4, h.fetcher.calls())

	h.clock.Advance(46 * time.Second)
	h.waitCycles(t, 5)
	assert.Equal(t, []time.Duration{2 * time.Second, 60 * time.Second}, h.clock.Pending(), "counter starts over")
}

func TestTerminalErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, nil, fail(types.KindInvalidResponse, 404))
	h.start(t)

	assert.Equal(t, types.KindInvalidResponse, apiErr(t, h.engine.State().LastError).Kind)
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Pending())
}

func TestNewFetchCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, nil, fail(types.KindRateLimited, 429), ok(20))
	h.start(t)
	require.Len(t, h.clock.Pending(), 2)

	h.manual(t)
	assert.NoError(t, h.engine.State().LastError)
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Pending())

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 2, h.fetcher.calls())
	assert.Equal(t, uint64(2), h.cycles())
}

func TestRetryFiringDuringSupersedingFetchIsDropped(t *testing.T) {
	h := newHarness(t, nil, fail(types.KindServer, 500), ok(20))
	h.start(t)

	// Hold the loop so the retry timer fires while a newer fetch is about
	// to supersede it.
	release := make(chan struct{})
	h.engine.submit(func() {
		<-release
		h.engine.fetch("manual")
	})

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		h.clock.Advance(2 * time.Second)
	}()
	require.Eventually(t, func() bool { return len(h.clock.Pending()) == 1 }, time.Second, time.Millisecond)

	close(release)
	h.waitCycles(t, 2)
	<-advanced

	h.manual(t)
	assert.Equal(t, 3, h.fetcher.calls(), "the superseded retry never fetches")
}

func TestFailureKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t, nil, ok(30), fail(types.KindServer, 500))
	h.start(t)
	before := h.engine.State()

	h.manual(t)
	after := h.engine.State()
	assert.Same(t, before.Snapshot, after.Snapshot)
	assert.Equal(t, *before.LastUpdated, *after.LastUpdated)
	assert.Equal(t, types.KindServer, apiErr(t, after.LastError).Kind)
	assert.Equal(t, 30, h.engine.PrimaryPercentage())
}

func TestUnauthorizedReauthenticatesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.tokens = []string{"old", "new"}
	h.fetcher.byToken = map[string]result{
		"old": fail(types.KindUnauthorized, 401),
		"new": ok(50),
	}
	h.start(t)

	assert.NoError(t, h.engine.State().LastError)
	assert.Equal(t, []string{"old", "new"}, h.fetcher.seenTokens())
	lookups, invalidated := h.provider.counts()
	assert.Equal(t, 2, lookups)
	assert.Equal(t, 1, invalidated)

	h.manual(t)
	lookups, _ = h.provider.counts()
	assert.Equal(t, 2, lookups, "token is cached between fetches")
	assert.Equal(t, []string{"old", "new", "new"}, h.fetcher.seenTokens())
}

func TestSecondUnauthorizedIsTerminal(t *testing.T) {
	h := newHarness(t, nil, fail(types.KindUnauthorized, 401))
	h.start(t)

	assert.Equal(t, types.KindUnauthorized, apiErr(t, h.engine.State().LastError).Kind)
	assert.Equal(t, 2, h.fetcher.calls())
	_, invalidated := h.provider.counts()
	assert.Equal(t, 2, invalidated)
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Pending())
}

func TestMissingCredentialsSkipsRequest(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	h.provider.tokens = nil
	h.start(t)

	err := h.engine.State().LastError
	assert.Equal(t, types.KindUnauthorized, apiErr(t, err).Kind)
	assert.ErrorIs(t, err, types.ErrCredentialNotFound)
	assert.Zero(t, h.fetcher.calls())
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Pending())
}

func TestProviderFailureIsReportedAsMissingCredentials(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	h.provider.err = errors.New("keychain locked")
	h.start(t)

	err := h.engine.State().LastError
	assert.ErrorIs(t, err, types.ErrCredentialNotFound)
	assert.Contains(t, err.Error(), "keychain locked")
}

func TestIsLoadingWhileFetching(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	gate := make(chan struct{})
	h.fetcher.gate = gate

	h.engine.Start(context.Background())
	require.Eventually(t, func() bool { return h.engine.State().IsLoading }, time.Second, time.Millisecond)
	assert.Nil(t, h.engine.State().LastUpdated)

	close(gate)
	h.waitCycles(t, 1)
	assert.False(t, h.engine.State().IsLoading)
}

func TestManualTriggersCoalesceWhileInFlight(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	gate := make(chan struct{})
	h.fetcher.gate = gate

	h.engine.Start(context.Background())
	require.Eventually(t, func() bool { return h.fetcher.calls() == 1 }, time.Second, time.Millisecond)

	h.engine.TriggerManualFetch()
	h.engine.TriggerManualFetch()
	h.engine.TriggerManualFetch()
	close(gate)

	h.waitCycles(t, 2)
	assert.Equal(t, 2, h.fetcher.calls())
}

func TestNetworkRecoveryResetsRetriesAndFetches(t *testing.T) {
	h := newHarness(t, nil, fail(types.KindNetwork, 0))
	h.start(t)
	h.clock.Advance(2 * time.Second)
	h.waitCycles(t, 2)
	require.Equal(t, 2, h.engine.scheduler.Attempt())

	h.engine.SetNetworkAvailable(false)
	require.Eventually(t, func() bool { return !h.engine.State().IsNetworkAvailable }, time.Second, time.Millisecond)

	h.fetcher.push(ok(15))
	h.engine.SetNetworkAvailable(true)
	h.waitCycles(t, 3)
	assert.True(t, h.engine.State().IsNetworkAvailable)
	assert.NoError(t, h.engine.State().LastError)
	assert.Equal(t, 0, h.engine.scheduler.Attempt())
	assert.Equal(t, []time.Duration{58 * time.Second}, h.clock.Pending())

	h.engine.SetNetworkAvailable(true)
	h.manual(t)
	assert.Equal(t, 4, h.fetcher.calls(), "no fetch without an unavailable to available transition")
}

func TestSetNetworkAvailableBeforeStart(t *testing.T) {
	h := newHarness(t, nil, ok(10))

	done := make(chan struct{})
	go func() {
		h.engine.SetNetworkAvailable(false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetNetworkAvailable blocked before Start")
	}
	assert.False(t, h.engine.State().IsNetworkAvailable)
	assert.Zero(t, h.fetcher.calls())

	h.start(t)
	h.engine.SetNetworkAvailable(true)
	h.waitCycles(t, 2)
	assert.True(t, h.engine.State().IsNetworkAvailable)
	assert.Equal(t, 2, h.fetcher.calls())
}

func TestRepeatedNetworkObservationIsIgnored(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	h.start(t)

	h.engine.SetNetworkAvailable(true)
	h.engine.SetNetworkAvailable(true)
	h.manual(t)
	assert.Equal(t, 2, h.fetcher.calls(), "an available observation while available does not fetch")
	assert.True(t, h.engine.State().IsNetworkAvailable)
}

type scriptedWatcher struct {
	states []bool
}

func (w scriptedWatcher) Run(ctx context.Context, onChange func(bool)) error {
	for _, s := range w.states {
		onChange(s)
	}
	<-ctx.Done()
	return nil
}

func TestNetworkWatcherDrivesEngine(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Network = scriptedWatcher{states: []bool{true, false, true}}
	}, ok(10))
	h.engine.Start(context.Background())

	h.waitCycles(t, 2)
	assert.True(t, h.engine.State().IsNetworkAvailable)
}

func TestSetRefreshInterval(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	h.start(t)

	err := h.engine.SetRefreshInterval(45)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)

	require.NoError(t, h.engine.SetRefreshInterval(120))
	require.Eventually(t, func() bool {
		return h.engine.State().RefreshInterval == 2*time.Minute
	}, time.Second, time.Millisecond)
	assert.Equal(t, []time.Duration{2 * time.Minute}, h.clock.Pending())
	assert.Equal(t, 1, h.fetcher.calls(), "changing the interval does not fetch")

	h.clock.Advance(time.Minute)
	assert.Equal(t, uint64(1), h.cycles())

	h.clock.Advance(time.Minute)
	h.waitCycles(t, 2)
}

func TestNotificationsFollowPolicy(t *testing.T) {
	h := newHarness(t, nil, ok(50), ok(90), ok(92), ok(95), ok(40), ok(91))
	h.start(t)
	for i := 0; i < 5; i++ {
		h.manual(t)
	}

	sent := h.sink.Sent()
	require.Len(t, sent, 3)
	for _, m := range sent {
		assert.Equal(t, notify.Title, m.Title)
	}
	assert.Equal(t, "5-Hour Session at 90%, resets in --", sent[0].Body)
	assert.True(t, strings.HasPrefix(sent[1].Body, "5-Hour Session at 95%"))
	assert.True(t, strings.HasPrefix(sent[2].Body, "5-Hour Session at 91%"))
}

func TestFiveHourLabelRoundingDoesNotNotifyEarly(t *testing.T) {
	h := newHarness(t, nil, ok(89.1))
	h.start(t)

	assert.Equal(t, 90, h.engine.PrimaryPercentage())
	top := h.engine.MaxDisplayUsage()
	assert.Equal(t, 89, top.Percentage)
	assert.Equal(t, 89, h.engine.AllDisplayUsages()[0].Percentage)
	assert.Empty(t, h.sink.Sent())
}

func TestPrimaryPercentageRoundsDownWhenCritical(t *testing.T) {
	h := newHarness(t, nil, ok(99.9))
	h.start(t)

	assert.Equal(t, 99, h.engine.PrimaryPercentage())
	assert.Equal(t, 100, h.engine.MaxDisplayUsage().Percentage)
}

func TestNotificationsCanBeDisabled(t *testing.T) {
	h := newHarness(t, nil, ok(10), ok(99))
	h.start(t)

	h.engine.SetNotificationsEnabled(false)
	require.Eventually(t, func() bool { return !h.engine.State().NotificationsEnabled }, time.Second, time.Millisecond)
	h.manual(t)

	assert.Empty(t, h.sink.Sent())
}

func TestDisplayUsagesAreMemoizedPerSnapshot(t *testing.T) {
	h := newHarness(t, nil,
		result{snapshot: &types.UsageSnapshot{
			FiveHour: &types.UsageLimit{Utilization: 10},
			SevenDay: &types.UsageLimit{Utilization: 70},
		}},
		ok(20),
	)
	assert.Empty(t, h.engine.AllDisplayUsages())
	assert.Equal(t, projection.ZeroUsage, h.engine.MaxDisplayUsage())

	h.start(t)
	all := h.engine.AllDisplayUsages()
	require.Len(t, all, 2)
	assert.Equal(t, "Weekly Limit", h.engine.MaxDisplayUsage().Name)

	all[0].Percentage = 99
	assert.Equal(t, 10, h.engine.AllDisplayUsages()[0].Percentage)

	h.manual(t)
	all = h.engine.AllDisplayUsages()
	require.Len(t, all, 1)
	assert.Equal(t, 20, all[0].Percentage)
	assert.Equal(t, "5-Hour Session", h.engine.MaxDisplayUsage().Name)
}

func TestTimeProgressFollowsFiveHourWindow(t *testing.T) {
	reset := epoch.Add(3661 * time.Second).Format(time.RFC3339)
	h := newHarness(t, nil, result{snapshot: &types.UsageSnapshot{
		FiveHour: &types.UsageLimit{Utilization: 85, ResetsAt: &reset},
	}})
	assert.Zero(t, h.engine.TimeProgress())

	h.start(t)
	assert.InDelta(t, 0.7966, h.engine.TimeProgress(), 0.0001)
	assert.Equal(t, projection.StatusCritical, h.engine.PrimaryStatus())
}

func TestSubscribeAndClose(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	ch, _ := h.engine.Subscribe()

	h.start(t)
	select {
	case _, open := <-ch:
		assert.True(t, open)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	require.NoError(t, h.engine.Close())
	require.NoError(t, h.engine.Close())
	assert.Empty(t, h.clock.Pending(), "timers are stopped on close")

	for range ch {
	}
	select {
	case <-h.engine.Done():
	default:
		t.Fatal("loop still running")
	}

	h.engine.TriggerManualFetch()
	assert.NoError(t, h.engine.SetRefreshInterval(30))
	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.fetcher.calls())

	late, _ := h.engine.Subscribe()
	_, open := <-late
	assert.False(t, open)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	ch, cancel := h.engine.Subscribe()
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestParentContextStopsEngine(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	ctx, cancel := context.WithCancel(context.Background())
	h.engine.Start(ctx)
	h.waitCycles(t, 1)

	cancel()
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestCloseAbortsInFlightFetch(t *testing.T) {
	h := newHarness(t, nil, ok(10))
	h.fetcher.gate = make(chan struct{})
	h.engine.Start(context.Background())
	require.Eventually(t, func() bool { return h.fetcher.calls() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.engine.Close())
	s := h.engine.State()
	assert.False(t, s.IsLoading)
	assert.NoError(t, s.LastError)
	assert.Empty(t, h.clock.Pending())
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, func(o *Options) {
		o.Metrics = metrics.NewRecorder(reg)
	}, fail(types.KindServer, 502), ok(93))
	h.start(t)
	h.clock.Advance(2 * time.Second)
	h.waitCycles(t, 2)

	expected := `
# HELP usagebar_retries_scheduled_total Total number of scheduled fetch retries
# TYPE usagebar_retries_scheduled_total counter
usagebar_retries_scheduled_total 1
# HELP usagebar_notifications_total Total number of usage warnings delivered
# TYPE usagebar_notifications_total counter
usagebar_notifications_total 1
# HELP usagebar_utilization_percent Last reported utilization per limit
# TYPE usagebar_utilization_percent gauge
usagebar_utilization_percent{limit="five_hour"} 93
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"usagebar_retries_scheduled_total",
		"usagebar_notifications_total",
		"usagebar_utilization_percent",
	))
}
