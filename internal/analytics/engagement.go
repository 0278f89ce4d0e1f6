package analytics

import (
	"sort"
	"time"

	"parley/internal/actionlog"
)

// HourlyOutcomes aggregates journaled visit outcomes into per-hour buckets.
func HourlyOutcomes(actions []actionlog.Action) map[time.Time]map[string]int {
	buckets := make(map[time.Time]map[string]int)
	for _, a := range actions {
		key := time.Date(a.TS.Year(), a.TS.Month(), a.TS.Day(), a.TS.Hour(), 0, 0, 0, time.UTC)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[string]int)
		}
		buckets[key][a.Type]++
	}
	return buckets
}

// SortedBucketKeys returns sorted hour keys.
func SortedBucketKeys(m map[time.Time]map[string]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}
