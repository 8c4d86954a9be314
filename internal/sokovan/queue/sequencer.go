package queue

import (
	"golang.org/x/exp/slices"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// Sequencer orders pending session workloads before agent selection. The
// input slice is not modified; implementations return a new ordered slice.
type Sequencer interface {
	Name() string
	Sequence(workloads []*schedulerobjects.SessionWorkload) []*schedulerobjects.SessionWorkload
}

// FIFOSequencer schedules higher-priority sessions first and breaks ties by
// submission time, oldest first.
type FIFOSequencer struct{}

func NewFIFOSequencer() *FIFOSequencer {
	return &FIFOSequencer{}
}

func (s *FIFOSequencer) Name() string {
	return "fifo"
}

func (s *FIFOSequencer) Sequence(
	workloads []*schedulerobjects.SessionWorkload,
) []*schedulerobjects.SessionWorkload {
	ordered := slices.Clone(workloads)
	slices.SortStableFunc(ordered, func(a, b *schedulerobjects.SessionWorkload) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ordered
}

// LIFOSequencer schedules higher-priority sessions first and breaks ties by
// submission time, newest first. Useful for interactive workloads where the
// user who just clicked "run" expects immediate feedback.
type LIFOSequencer struct{}

func NewLIFOSequencer() *LIFOSequencer {
	return &LIFOSequencer{}
}

func (s *LIFOSequencer) Name() string {
	return "lifo"
}

func (s *LIFOSequencer) Sequence(
	workloads []*schedulerobjects.SessionWorkload,
) []*schedulerobjects.SessionWorkload {
	ordered := slices.Clone(workloads)
	slices.SortStableFunc(ordered, func(a, b *schedulerobjects.SessionWorkload) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return ordered
}
