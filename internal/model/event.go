package model

import "sort"

// EconomicEvent is one row of the economic calendar for a single day.
// Actual stays nil until the source publishes the indicator value.
type EconomicEvent struct {
	Time        string  `json:"time"`
	Description string  `json:"description"`
	Country     string  `json:"country,omitempty"`
	Importance  int     `json:"importance"`
	Previous    *string `json:"previous,omitempty"`
	Forecast    *string `json:"forecast,omitempty"`
	Actual      *string `json:"actual,omitempty"`
}

// Published reports whether the indicator value has appeared at the source.
func (e *EconomicEvent) Published() bool {
	return e.Actual != nil
}

// EventTimeGroup is the set of events sharing one nominal publication time.
// Warning and update jobs are scheduled per group, never per event.
type EventTimeGroup struct {
	Time   string          `json:"time"`
	Events []EconomicEvent `json:"events"`
}

// Pending returns the events that had a previous value but still lack an
// actual one. The group is considered settled once this is empty.
func (g *EventTimeGroup) Pending() []EconomicEvent {
	var pending []EconomicEvent
	for _, e := range g.Events {
		if e.Previous != nil && !e.Published() {
			pending = append(pending, e)
		}
	}
	return pending
}

// Descriptions returns the event descriptions in listing order.
func (g *EventTimeGroup) Descriptions() []string {
	names := make([]string, 0, len(g.Events))
	for _, e := range g.Events {
		name := e.Description
		if name == "" {
			name = "Unknown Event"
		}
		names = append(names, name)
	}
	return names
}

// GroupEventsByTime buckets events by their nominal time, sorted by time.
func GroupEventsByTime(events []EconomicEvent) []EventTimeGroup {
	byTime := make(map[string][]EconomicEvent)
	for _, e := range events {
		if e.Time == "" {
			continue
		}
		byTime[e.Time] = append(byTime[e.Time], e)
	}

	times := make([]string, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Strings(times)

	groups := make([]EventTimeGroup, 0, len(times))
	for _, t := range times {
		groups = append(groups, EventTimeGroup{Time: t, Events: byTime[t]})
	}
	return groups
}
