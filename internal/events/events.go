package events

import (
	"slices"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// EventFilter selects the events a subscriber is interested in
type EventFilter func(*api.Event) bool

// FilterEvents matches events of the given types
func FilterEvents(eventTypes ...api.EventType) EventFilter {
	lookup := map[api.EventType]bool{}
	for _, et := range eventTypes {
		lookup[et] = true
	}
	return func(ev *api.Event) bool {
		return lookup[ev.Type]
	}
}

// FilterInstance matches events concerning one of the workflow instances
func FilterInstance(ids ...api.WorkflowInstanceID) EventFilter {
	return func(ev *api.Event) bool {
		return slices.Contains(ids, ev.InstanceID())
	}
}

// OrFilters matches events that any of the filters match
func OrFilters(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if filter(ev) {
				return true
			}
		}
		return false
	}
}

// AndFilters matches events that every filter matches
func AndFilters(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// BuildFilter creates a filter from a client subscription. An empty
// subscription matches nothing
func BuildFilter(sub *api.ClientSubscription) EventFilter {
	var filters []EventFilter
	if len(sub.InstanceIDs) > 0 {
		filters = append(filters, FilterInstance(sub.InstanceIDs...))
	}
	if len(sub.EventTypes) > 0 {
		filters = append(filters, FilterEvents(sub.EventTypes...))
	}
	if len(filters) == 0 {
		return func(*api.Event) bool { return false }
	}
	return AndFilters(filters...)
}
