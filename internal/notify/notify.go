// Package notify decides when a high-usage warning is due and delivers it.
package notify

import (
	"context"
	"fmt"

	"github.com/sdpower/usagebar-go/internal/projection"
)

const (
	DefaultThreshold = 90
	DefaultStep      = 5

	Title = "Claude usage warning"
)

// Sink delivers a notification somewhere a user will see it.
type Sink interface {
	Notify(ctx context.Context, title, body string) error
}

// Body renders the warning text for a usage.
func Body(u projection.DisplayUsage) string {
	return fmt.Sprintf("%s at %d%%, resets in %s", u.Name, u.Percentage, u.RemainingTime)
}

// Policy de-duplicates warnings: the first time the highest usage reaches
// Threshold, then again each time it climbs Step points above the last
// warned level. Dropping below Threshold re-arms it.
//
// Policy is not safe for concurrent use.
type Policy struct {
	Threshold int
	Step      int

	notified bool
	baseline int
}

func NewPolicy() *Policy {
	return &Policy{Threshold: DefaultThreshold, Step: DefaultStep}
}

// Evaluate records the latest highest usage and reports whether a
// notification should be sent for it.
func (p *Policy) Evaluate(top projection.DisplayUsage) bool {
	if top.Percentage < p.Threshold {
		p.notified = false
		p.baseline = top.Percentage
		return false
	}
	if p.notified && top.Percentage < p.baseline+p.Step {
		return false
	}
	p.notified = true
	p.baseline = top.Percentage
	return true
}

// Reset forgets any previous warning.
func (p *Policy) Reset() {
	p.notified = false
	p.baseline = 0
}
