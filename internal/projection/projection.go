// Package projection turns raw usage limits into display-ready values.
package projection

import (
	"fmt"
	"math"
	"time"

	"github.com/sdpower/usagebar-go/internal/types"
)

// Thresholds are percentage points, not fractions.
const (
	CriticalThreshold = 90.0
	WarningThreshold  = 80.0
	NormalThreshold   = 50.0
)

type Status int

const (
	StatusNormal Status = iota
	StatusWarning
	StatusCritical
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	case StatusExhausted:
		return "exhausted"
	default:
		return "normal"
	}
}

// Color is the colour name consumers use for the status tier.
func (s Status) Color() string {
	switch s {
	case StatusWarning:
		return "yellow"
	case StatusCritical:
		return "red"
	case StatusExhausted:
		return "gray"
	default:
		return "green"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "normal":
		*s = StatusNormal
	case "warning":
		*s = StatusWarning
	case "critical":
		*s = StatusCritical
	case "exhausted":
		*s = StatusExhausted
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// StatusOf classifies a utilization percentage.
func StatusOf(utilization float64) Status {
	switch {
	case utilization >= 100:
		return StatusExhausted
	case utilization > WarningThreshold:
		return StatusCritical
	case utilization >= NormalThreshold:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// Percentage rounds a utilization to the nearest whole percent.
func Percentage(utilization float64) int {
	return int(math.Round(utilization))
}

// PrimaryPercentage rounds the five-hour utilization for the at-a-glance
// label: up below the critical threshold and down at or above it, so 90% is
// never shown early and a saturated window is never shown as 100% before it
// actually is. DisplayUsage and notifications use Percentage.
func PrimaryPercentage(utilization float64) int {
	if utilization < CriticalThreshold {
		return int(math.Ceil(utilization))
	}
	return int(math.Floor(utilization))
}

// Window describes how a limit kind is presented.
type Window struct {
	Kind    types.LimitKind
	Name    string
	Icon    string
	Hours   int
	Primary bool
}

var windows = []Window{
	{Kind: types.LimitFiveHour, Name: "5-Hour Session", Icon: "clock", Hours: types.FiveHourWindowHours, Primary: true},
	{Kind: types.LimitSevenDay, Name: "Weekly Limit", Icon: "calendar", Hours: types.SevenDayWindowHours},
	{Kind: types.LimitSevenDayOpus, Name: "Opus Only", Icon: "target", Hours: types.SevenDayWindowHours},
	{Kind: types.LimitSevenDaySonnet, Name: "Sonnet Only", Icon: "bolt", Hours: types.SevenDayWindowHours},
}

// WindowFor returns the presentation of a limit kind.
func WindowFor(kind types.LimitKind) Window {
	for _, w := range windows {
		if w.Kind == kind {
			return w
		}
	}
	return Window{Kind: kind, Name: string(kind), Icon: "?", Hours: kind.WindowHours()}
}

// DisplayUsage is the derived, non-persisted view of one limit.
type DisplayUsage struct {
	Kind          types.LimitKind `json:"kind"`
	Name          string          `json:"name"`
	Icon          string          `json:"icon"`
	Percentage    int             `json:"percentage"`
	RemainingTime string          `json:"remaining_time"`
	Status        Status          `json:"status"`
	TimeProgress  float64         `json:"time_progress"` // 0.0 = window just started, 1.0 = about to reset
}

// ZeroUsage is returned when there is nothing to show.
var ZeroUsage = DisplayUsage{
	Name:          "Unknown",
	Icon:          "?",
	RemainingTime: "--",
	Status:        StatusNormal,
}

// Project computes the display fields of limit at time now.
func Project(w Window, limit types.UsageLimit, now time.Time) DisplayUsage {
	usage := DisplayUsage{
		Kind:          w.Kind,
		Name:          w.Name,
		Icon:          w.Icon,
		Percentage:    Percentage(limit.Utilization),
		RemainingTime: "--",
		Status:        StatusOf(limit.Utilization),
	}
	if limit.ResetsAt == nil {
		return usage
	}
	resetAt, ok := ParseResetTime(*limit.ResetsAt)
	if !ok {
		return usage
	}

	interval := resetAt.Sub(now)
	if interval <= 0 {
		usage.RemainingTime = "now"
		usage.TimeProgress = 1.0
		return usage
	}

	usage.RemainingTime = FormatRemaining(interval)
	usage.TimeProgress = TimeProgress(interval, time.Duration(w.Hours)*time.Hour)
	return usage
}

// ParseResetTime parses an ISO 8601 timestamp with or without fractional seconds.
func ParseResetTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// TimeProgress is the elapsed share of a window that resets in interval.
func TimeProgress(interval, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	progress := float64(window-interval) / float64(window)
	return math.Min(1.0, math.Max(0.0, progress))
}

// FormatRemaining renders a positive interval as "1d 2h", "3h 4m" or "5m".
func FormatRemaining(interval time.Duration) string {
	seconds := int(interval / time.Second)
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
