// Package retry decides when a failed usage fetch is re-attempted.
package retry

import (
	"math"
	"time"

	"github.com/sdpower/usagebar-go/internal/clock"
	"github.com/sdpower/usagebar-go/internal/types"
)

// Policy configures exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries scheduled before giving up.
	MaxRetries int
	// InitialDelay is multiplied by Multiplier^attempt.
	InitialDelay time.Duration
	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy yields delays of 2s, 4s and 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
	}
}

// ComputeDelay returns the wait before the given attempt, counted from 1.
func (p Policy) ComputeDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	return time.Duration(delay)
}

// Handle identifies one scheduled retry. The zero Handle refers to nothing.
type Handle struct {
	id uint64
}

func (h Handle) Valid() bool { return h.id != 0 }

// Scheduler keeps at most one retry outstanding. It is not safe for
// concurrent use; the polling engine calls it from its own goroutine only.
// The fire callback passed to Schedule runs on the timer goroutine and must
// hand the Handle back to the owner, which then calls Claim.
type Scheduler struct {
	clock  clock.Clock
	policy Policy

	attempt int
	seq     uint64
	current uint64
	timer   clock.Timer
}

func NewScheduler(c clock.Clock, policy Policy) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{clock: c, policy: policy}
}

// Schedule arms a retry for err if it is retryable and the cap has not been
// reached. Any previously scheduled retry is cancelled first. Once the cap is
// exceeded the attempt counter resets to zero and nothing is scheduled.
func (s *Scheduler) Schedule(err error, fire func(Handle)) (Handle, time.Duration, bool) {
	if !types.IsRetryable(err) {
		return Handle{}, 0, false
	}
	s.Cancel()

	if s.attempt >= s.policy.MaxRetries {
		s.attempt = 0
		return Handle{}, 0, false
	}

	s.attempt++
	delay := s.policy.ComputeDelay(s.attempt)

	s.seq++
	h := Handle{id: s.seq}
	s.current = h.id
	s.timer = s.clock.AfterFunc(delay, func() { fire(h) })
	return h, delay, true
}

// Claim consumes a fired handle. It returns false when the handle was
// cancelled or superseded, in which case the retry must not fetch.
func (s *Scheduler) Claim(h Handle) bool {
	if !h.Valid() || h.id != s.current {
		return false
	}
	s.current = 0
	s.timer = nil
	return true
}

// Cancel stops the outstanding retry, if any.
func (s *Scheduler) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.current = 0
}

// Reset zeroes the attempt counter.
func (s *Scheduler) Reset() {
	s.attempt = 0
}

func (s *Scheduler) Attempt() int {
	return s.attempt
}

func (s *Scheduler) Pending() bool {
	return s.current != 0
}
