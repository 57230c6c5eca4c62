package changes

import "github.com/stine-notifier/stine/pkg/entity"

// Diff compares two observations of one collection.
//
// Entities are matched by Key.Identity, so module section suffixes do not
// break a match. Within one identity, entities with the same raw id are
// paired first. Each remaining entity then takes the unpaired candidate
// with the fewest differing tracked fields, the earliest one on ties.
//
// Events follow the order of current: an unmatched entity yields Added, a
// matched one yields FieldChanged for every tracked field known on both
// sides with different values, in schema order. Baseline entities left
// unmatched yield Removed afterwards, in baseline order.
func Diff(kind entity.Kind, baseline, current []entity.Value) []Event {
	groups := make(map[string][]int)
	for j, v := range baseline {
		id := v.Key.Identity()
		groups[id] = append(groups[id], j)
	}
	taken := make([]bool, len(baseline))
	pair := make([]int, len(current))

	for i, v := range current {
		pair[i] = -1
		for _, j := range groups[v.Key.Identity()] {
			if !taken[j] && baseline[j].Key.ID == v.Key.ID {
				pair[i], taken[j] = j, true
				break
			}
		}
	}
	tracked := entity.TrackedFields(kind)
	for i, v := range current {
		if pair[i] >= 0 {
			continue
		}
		best, bestDiffs := -1, 0
		for _, j := range groups[v.Key.Identity()] {
			if taken[j] {
				continue
			}
			n := len(entity.CompareFields(baseline[j], v, tracked))
			if best < 0 || n < bestDiffs {
				best, bestDiffs = j, n
			}
		}
		if best >= 0 {
			pair[i], taken[best] = best, true
		}
	}

	var events []Event
	for i, v := range current {
		if pair[i] < 0 {
			events = append(events, Event{Key: v.Key, Type: Added, Entity: v.Clone()})
			continue
		}
		for _, d := range entity.CompareFields(baseline[pair[i]], v, tracked) {
			events = append(events, Event{
				Key: v.Key, Type: FieldChanged, Field: d.Field, Old: d.Old, New: d.New, Entity: v.Clone(),
			})
		}
	}
	for j, v := range baseline {
		if !taken[j] {
			events = append(events, Event{Key: v.Key, Type: Removed, Entity: v.Clone()})
		}
	}
	return events
}
