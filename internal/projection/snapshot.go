package projection

import (
	"fmt"
	"time"

	"github.com/sdpower/usagebar-go/internal/types"
)

// All projects every present limit of snapshot in display order.
func All(snapshot *types.UsageSnapshot, now time.Time) []DisplayUsage {
	if snapshot == nil {
		return nil
	}
	usages := make([]DisplayUsage, 0, len(types.AllLimitKinds))
	for _, kind := range types.AllLimitKinds {
		limit := snapshot.Limit(kind)
		if limit == nil {
			continue
		}
		usages = append(usages, Project(WindowFor(kind), *limit, now))
	}
	return usages
}

// Max returns the usage with the highest percentage, the first one on ties,
// or ZeroUsage for an empty list.
func Max(usages []DisplayUsage) DisplayUsage {
	if len(usages) == 0 {
		return ZeroUsage
	}
	top := usages[0]
	for _, u := range usages[1:] {
		if u.Percentage > top.Percentage {
			top = u
		}
	}
	return top
}

// Primary projects the five-hour limit. ok is false when it is absent.
func Primary(snapshot *types.UsageSnapshot, now time.Time) (DisplayUsage, bool) {
	limit := snapshot.Limit(types.LimitFiveHour)
	if limit == nil {
		return ZeroUsage, false
	}
	return Project(WindowFor(types.LimitFiveHour), *limit, now), true
}

// LastUpdatedText renders the age of the last successful update.
func LastUpdatedText(lastUpdated *time.Time, now time.Time) string {
	if lastUpdated == nil {
		return "Never"
	}
	seconds := int(now.Sub(*lastUpdated) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds ago", seconds)
	}
	return fmt.Sprintf("%dm ago", seconds/60)
}
