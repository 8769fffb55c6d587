package types

import (
	"encoding/json"
	"errors"
	"math"
)

// ErrMissingUtilization is returned when a limit object has no numeric
// utilization.
var ErrMissingUtilization = errors.New("usage limit has no utilization")

// Window lengths in hours for the limits reported by the usage endpoint.
const (
	FiveHourWindowHours = 5
	SevenDayWindowHours = 168
)

// UsageLimit is a single rate limit as reported by the usage endpoint.
// Utilization is a percentage (0-100), not a fraction.
type UsageLimit struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    *string `json:"resets_at"` // ISO 8601 or null
}

// NewUsageLimit returns a limit with utilization clamped into [0,100].
func NewUsageLimit(utilization float64, resetsAt *string) UsageLimit {
	return UsageLimit{
		Utilization: clampUtilization(utilization),
		ResetsAt:    resetsAt,
	}
}

func (l *UsageLimit) UnmarshalJSON(data []byte) error {
	var raw struct {
		Utilization *float64 `json:"utilization"`
		ResetsAt    *string  `json:"resets_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Utilization == nil {
		return ErrMissingUtilization
	}
	*l = NewUsageLimit(*raw.Utilization, raw.ResetsAt)
	return nil
}

func clampUtilization(u float64) float64 {
	if math.IsNaN(u) {
		return 0
	}
	return math.Min(math.Max(u, 0), 100)
}

// UsageSnapshot is the decoded body of the usage endpoint. A nil field means
// the limit does not apply to the account, not that it is zero.
type UsageSnapshot struct {
	FiveHour       *UsageLimit `json:"five_hour"`
	SevenDay       *UsageLimit `json:"seven_day"`
	SevenDayOpus   *UsageLimit `json:"seven_day_opus"`
	SevenDaySonnet *UsageLimit `json:"seven_day_sonnet"`
}

// LimitKind identifies one of the limits in a snapshot.
type LimitKind string

const (
	LimitFiveHour       LimitKind = "five_hour"
	LimitSevenDay       LimitKind = "seven_day"
	LimitSevenDayOpus   LimitKind = "seven_day_opus"
	LimitSevenDaySonnet LimitKind = "seven_day_sonnet"
)

// AllLimitKinds lists limit kinds in display order.
var AllLimitKinds = []LimitKind{LimitFiveHour, LimitSevenDay, LimitSevenDayOpus, LimitSevenDaySonnet}

// WindowHours returns the rolling window length for the limit kind.
func (k LimitKind) WindowHours() int {
	if k == LimitFiveHour {
		return FiveHourWindowHours
	}
	return SevenDayWindowHours
}

// Limit returns the limit of the given kind, or nil when absent.
func (s *UsageSnapshot) Limit(kind LimitKind) *UsageLimit {
	if s == nil {
		return nil
	}
	switch kind {
	case LimitFiveHour:
		return s.FiveHour
	case LimitSevenDay:
		return s.SevenDay
	case LimitSevenDayOpus:
		return s.SevenDayOpus
	case LimitSevenDaySonnet:
		return s.SevenDaySonnet
	}
	return nil
}

// IsEmpty reports whether no limit is present.
func (s *UsageSnapshot) IsEmpty() bool {
	for _, kind := range AllLimitKinds {
		if s.Limit(kind) != nil {
			return false
		}
	}
	return true
}
