package fairshare

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// BucketKey identifies one daily usage bucket of one scope.
type BucketKey struct {
	ResourceGroup string
	Scope         ScopeKey
	BucketDate    time.Time // UTC midnight
}

// BucketDelta is the usage to add to one bucket: resource-seconds plus the
// wall-clock duration covered, kept separately so partial observation
// periods merge correctly.
type BucketDelta struct {
	Usage           schedulerobjects.ResourceSlot
	DurationSeconds int64
}

// daySegment is the portion of one usage period falling on a single UTC day.
type daySegment struct {
	date    time.Time
	seconds int64
}

// Aggregator folds kernel usage records into daily per-scope buckets at the
// user, project, and domain levels. Pure computation, no I/O.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// AggregateKernelUsage converts usage records into bucket deltas keyed by
// (resource group, scope, day). A record crossing midnight contributes to
// the buckets of every day it touches, proportionally to the time spent in
// each. Each record feeds three scopes: its user, its project, its domain.
func (a *Aggregator) AggregateKernelUsage(records []KernelUsageRecord) map[BucketKey]*BucketDelta {
	deltas := make(map[BucketKey]*BucketDelta)
	for _, record := range records {
		for _, segment := range splitPeriodByDay(record.PeriodStart, record.PeriodEnd) {
			usage := record.OccupiedSlots.Scale(decimal.NewFromInt(segment.seconds))
			scopes := []ScopeKey{
				UserScope(record.DomainName, record.ProjectID, record.UserUUID),
				ProjectScope(record.DomainName, record.ProjectID),
				DomainScope(record.DomainName),
			}
			for _, scope := range scopes {
				key := BucketKey{
					ResourceGroup: record.ResourceGroup,
					Scope:         scope,
					BucketDate:    segment.date,
				}
				delta, ok := deltas[key]
				if !ok {
					delta = &BucketDelta{Usage: schedulerobjects.ResourceSlot{}}
					deltas[key] = delta
				}
				delta.Usage = delta.Usage.Add(usage)
				delta.DurationSeconds += segment.seconds
			}
		}
	}
	return deltas
}

// splitPeriodByDay cuts [start, end) at UTC midnights. An empty or inverted
// period yields no segments.
func splitPeriodByDay(start, end time.Time) []daySegment {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return nil
	}
	var segments []daySegment
	cursor := start
	for cursor.Before(end) {
		nextMidnight := dayOf(cursor).AddDate(0, 0, 1)
		segmentEnd := nextMidnight
		if end.Before(segmentEnd) {
			segmentEnd = end
		}
		segments = append(segments, daySegment{
			date:    dayOf(cursor),
			seconds: int64(segmentEnd.Sub(cursor) / time.Second),
		})
		cursor = segmentEnd
	}
	return segments
}

// dayOf truncates t to UTC midnight.
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
