package activities

import (
	"github.com/wforney/corewf-sub005/internal/activity"
)

// Parallel schedules all children up front and completes when every
// branch has settled. Branches still interleave cooperatively on the
// scheduler's single thread of control; this is concurrency of pending
// work, not of execution.
type Parallel struct {
	activity.Base
	children []activity.Activity
}

var (
	_ activity.Composite         = (*Parallel)(nil)
	_ activity.CompletionHandler = (*Parallel)(nil)
)

// NewParallel builds a parallel over the given branches.
func NewParallel(name string, children ...activity.Activity) *Parallel {
	return &Parallel{Base: activity.NewBase(name), children: children}
}

// Children implements activity.Composite.
func (p *Parallel) Children() []activity.Activity {
	return append([]activity.Activity{}, p.children...)
}

func (p *Parallel) Execute(ctx activity.Context) (activity.Outcome, error) {
	if len(p.children) == 0 {
		return activity.OutcomeCompleted, nil
	}
	for _, child := range p.children {
		if err := ctx.ScheduleChild(child); err != nil {
			return 0, err
		}
	}
	return activity.OutcomePending, nil
}

// ChildCompleted keeps waiting; the engine closes the node once the last
// pending branch terminates.
func (p *Parallel) ChildCompleted(activity.Context, activity.Activity, any) (activity.Outcome, error) {
	return activity.OutcomePending, nil
}
