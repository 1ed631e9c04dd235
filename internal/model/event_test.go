package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestGroupEventsByTime(t *testing.T) {
	events := []EconomicEvent{
		{Time: "17:00", Description: "Crude Oil Inventories"},
		{Time: "15:30", Description: "CPI"},
		{Time: "15:30", Description: "Core CPI"},
		{Time: "", Description: "Untimed"},
	}

	groups := GroupEventsByTime(events)
	require.Len(t, groups, 2)

	assert.Equal(t, "15:30", groups[0].Time)
	assert.Len(t, groups[0].Events, 2)
	assert.Equal(t, "17:00", groups[1].Time)
	assert.Len(t, groups[1].Events, 1)
}

func TestEventTimeGroupPending(t *testing.T) {
	group := EventTimeGroup{Time: "15:30", Events: []EconomicEvent{
		{Description: "CPI", Previous: strPtr("3.1%")},
		{Description: "Core CPI", Previous: strPtr("3.9%"), Actual: strPtr("3.8%")},
		{Description: "Fed Speech"},
	}}

	pending := group.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "CPI", pending[0].Description)
}

func TestEventTimeGroupDescriptions(t *testing.T) {
	group := EventTimeGroup{Events: []EconomicEvent{
		{Description: "CPI"},
		{},
	}}
	assert.Equal(t, []string{"CPI", "Unknown Event"}, group.Descriptions())
}

func TestMarketDayIsTradingDay(t *testing.T) {
	open := "16:30"
	assert.True(t, (&MarketDay{Date: "2024-01-10", OpenTime: &open}).IsTradingDay())
	assert.False(t, (&MarketDay{Date: "2024-01-13", IsWeekend: true}).IsTradingDay())
}
