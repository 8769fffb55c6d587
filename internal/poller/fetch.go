package poller

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sdpower/usagebar-go/internal/notify"
	"github.com/sdpower/usagebar-go/internal/types"
)

// fetch starts a new fetch cycle, superseding any pending retry.
func (e *Engine) fetch(trigger string) {
	e.scheduler.Cancel()
	e.attempt(trigger)
}

// attempt runs one fetch cycle and publishes its outcome.
func (e *Engine) attempt(trigger string) {
	e.logger.Debug("fetching usage", zap.String("trigger", trigger))
	e.publish(func(s *State) { s.IsLoading = true })

	snapshot, err := e.fetchWithReauth()
	if e.ctx.Err() != nil {
		e.publishCycle(func(s *State) { s.IsLoading = false }, false)
		return
	}
	if err != nil {
		e.fail(err)
		return
	}
	e.succeed(snapshot)
}

// fetchWithReauth performs the request, re-reading credentials and
// repeating the request exactly once after a 401.
func (e *Engine) fetchWithReauth() (*types.UsageSnapshot, error) {
	reauthenticated := false
	for {
		token, err := e.currentToken()
		if err != nil {
			return nil, err
		}

		snapshot, err := e.fetcher.Fetch(e.ctx, token)
		if err == nil {
			return snapshot, nil
		}

		apiErr, ok := types.AsAPIError(err)
		if !ok || apiErr.Kind != types.KindUnauthorized {
			return nil, err
		}

		e.token = ""
		e.credentials.Invalidate()
		if reauthenticated {
			return nil, err
		}
		reauthenticated = true
		e.metrics.Reauthenticated()
		e.logger.Info("token rejected, reloading credentials")
	}
}

func (e *Engine) currentToken() (string, error) {
	if e.token != "" {
		return e.token, nil
	}
	token, err := e.credentials.Token(e.ctx)
	if err != nil {
		if !errors.Is(err, types.ErrCredentialNotFound) {
			err = fmt.Errorf("%w: %v", types.ErrCredentialNotFound, err)
		}
		return "", &types.APIError{Kind: types.KindUnauthorized, Err: err}
	}
	e.token = token
	return token, nil
}

func (e *Engine) fail(err error) {
	if _, delay, ok := e.scheduler.Schedule(err, e.fireRetry); ok {
		e.metrics.RetryScheduled()
		e.logger.Warn("usage fetch failed, retry scheduled",
			zap.Error(err),
			zap.Int("attempt", e.scheduler.Attempt()),
			zap.Duration("delay", delay))
	} else {
		e.logger.Warn("usage fetch failed", zap.Error(err))
	}

	e.publishCycle(func(s *State) {
		s.IsLoading = false
		s.LastError = err
	}, false)
}

func (e *Engine) succeed(snapshot *types.UsageSnapshot) {
	e.scheduler.Reset()
	now := e.clock.Now()

	e.publishCycle(func(s *State) {
		s.IsLoading = false
		s.Snapshot = snapshot
		s.LastError = nil
		s.LastUpdated = &now
	}, true)

	e.metrics.SetLastSuccess(now)
	for _, kind := range types.AllLimitKinds {
		if limit := snapshot.Limit(kind); limit != nil {
			e.metrics.SetUtilization(string(kind), limit.Utilization)
		} else {
			e.metrics.ClearUtilization(string(kind))
		}
	}

	e.checkNotification()
}

func (e *Engine) checkNotification() {
	if !e.notificationsEnabled || e.notifier == nil {
		return
	}
	top := e.MaxDisplayUsage()
	if !e.policy.Evaluate(top) {
		return
	}

	e.metrics.Notified()
	body := notify.Body(top)
	e.logger.Info("usage warning", zap.String("limit", top.Name), zap.Int("percentage", top.Percentage))
	if err := e.notifier.Notify(e.ctx, notify.Title, body); err != nil {
		e.logger.Warn("failed to deliver notification", zap.Error(err))
	}
}

// publish applies mutate to the shared state and wakes subscribers.
func (e *Engine) publish(mutate func(*State)) {
	e.mu.Lock()
	mutate(&e.state)
	e.mu.Unlock()
	e.broadcast()
}

// publishCycle is publish for the final update of a fetch cycle.
func (e *Engine) publishCycle(mutate func(*State), replaced bool) {
	e.mu.Lock()
	mutate(&e.state)
	if replaced {
		e.version++
	}
	e.cycles++
	e.mu.Unlock()
	e.broadcast()
}
