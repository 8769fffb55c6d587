package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageLimitClampsUtilization(t *testing.T) {
	testCases := []struct {
		input    float64
		expected float64
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{130.2, 100},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, NewUsageLimit(tc.input, nil).Utilization, "input %v", tc.input)
	}
}

func TestUsageSnapshotDecodeClampsAndKeepsAbsentLimits(t *testing.T) {
	body := `{
		"five_hour": {"utilization": 120, "resets_at": "2025-11-04T15:00:00.123456+00:00"},
		"seven_day": {"utilization": -3, "resets_at": null},
		"seven_day_opus": null
	}`

	var snapshot UsageSnapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snapshot))

	require.NotNil(t, snapshot.FiveHour)
	assert.Equal(t, 100.0, snapshot.FiveHour.Utilization)
	require.NotNil(t, snapshot.FiveHour.ResetsAt)
	assert.Equal(t, "2025-11-04T15:00:00.123456+00:00", *snapshot.FiveHour.ResetsAt)

	require.NotNil(t, snapshot.SevenDay)
	assert.Equal(t, 0.0, snapshot.SevenDay.Utilization)
	assert.Nil(t, snapshot.SevenDay.ResetsAt)

	assert.Nil(t, snapshot.SevenDayOpus)
	assert.Nil(t, snapshot.SevenDaySonnet)
	assert.False(t, snapshot.IsEmpty())
}

func TestUsageLimitDecodeRequiresUtilization(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"missing", `{"five_hour": {"resets_at": null}}`},
		{"null", `{"seven_day": {"utilization": null, "resets_at": null}}`},
		{"string", `{"seven_day": {"utilization": "12"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var snapshot UsageSnapshot
			assert.Error(t, json.Unmarshal([]byte(tc.body), &snapshot))
		})
	}

	var snapshot UsageSnapshot
	err := json.Unmarshal([]byte(`{"five_hour": {"resets_at": null}}`), &snapshot)
	assert.ErrorIs(t, err, ErrMissingUtilization)
}

func TestUsageSnapshotIsEmpty(t *testing.T) {
	var nilSnapshot *UsageSnapshot
	assert.True(t, nilSnapshot.IsEmpty())
	assert.True(t, (&UsageSnapshot{}).IsEmpty())
	assert.False(t, (&UsageSnapshot{SevenDaySonnet: &UsageLimit{}}).IsEmpty())
}

func TestLimitKindWindowHours(t *testing.T) {
	assert.Equal(t, 5, LimitFiveHour.WindowHours())
	for _, kind := range []LimitKind{LimitSevenDay, LimitSevenDayOpus, LimitSevenDaySonnet} {
		assert.Equal(t, 168, kind.WindowHours(), string(kind))
	}
}
