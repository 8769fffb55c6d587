package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/usagebar-go/internal/types"
)

func limitPtr(u float64) *types.UsageLimit {
	l := types.NewUsageLimit(u, nil)
	return &l
}

func TestAllKeepsDisplayOrderAndSkipsAbsent(t *testing.T) {
	snapshot := &types.UsageSnapshot{
		FiveHour:       limitPtr(20),
		SevenDaySonnet: limitPtr(70),
	}

	usages := All(snapshot, now)

	require.Len(t, usages, 2)
	assert.Equal(t, "5-Hour Session", usages[0].Name)
	assert.Equal(t, "Sonnet Only", usages[1].Name)
	assert.Equal(t, "bolt", usages[1].Icon)
}

func TestEmptySnapshotFallsBackToZeroUsage(t *testing.T) {
	usages := All(&types.UsageSnapshot{}, now)
	assert.Empty(t, usages)
	assert.Equal(t, ZeroUsage, Max(usages))
	assert.Nil(t, All(nil, now))
}

func TestMaxPicksFirstHighest(t *testing.T) {
	usages := All(&types.UsageSnapshot{
		FiveHour:     limitPtr(30),
		SevenDay:     limitPtr(75),
		SevenDayOpus: limitPtr(75),
	}, now)

	highest := Max(usages)
	assert.Equal(t, "Weekly Limit", highest.Name)
	assert.Equal(t, 75, highest.Percentage)
}

func TestPrimary(t *testing.T) {
	_, ok := Primary(&types.UsageSnapshot{SevenDay: limitPtr(10)}, now)
	assert.False(t, ok)

	usage, ok := Primary(&types.UsageSnapshot{FiveHour: limitPtr(89.2)}, now)
	assert.True(t, ok)
	assert.Equal(t, 89, usage.Percentage)
	assert.Equal(t, StatusCritical, usage.Status)
}

func TestLastUpdatedText(t *testing.T) {
	assert.Equal(t, "Never", LastUpdatedText(nil, now))

	recent := now.Add(-42 * time.Second)
	assert.Equal(t, "42s ago", LastUpdatedText(&recent, now))

	older := now.Add(-3*time.Minute - 10*time.Second)
	assert.Equal(t, "3m ago", LastUpdatedText(&older, now))

	future := now.Add(time.Second)
	assert.Equal(t, "0s ago", LastUpdatedText(&future, now))
}
