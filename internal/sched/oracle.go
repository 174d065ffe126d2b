package sched

import (
	"context"
	"time"

	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

// Oracle decides, between execution slices, whether the running job should
// yield to a waiting one. It compares the running job's effective priority
// (stored + age boost) against the highest lane currently holding work.
//
// The answer is advisory and non-atomic: the waiting job may be taken by
// another worker before the suspended one is requeued. That race is
// acceptable; preemption bounds priority inversion, it does not guarantee
// the outranking job runs here. A spuriously preempted job simply re-enters
// the pool at its (possibly boosted) priority.
type Oracle struct {
	queue Queue
	log   logx.Logger
}

func NewOracle(q Queue, log logx.Logger) *Oracle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Oracle{queue: q, log: log}
}

// ShouldPreempt returns true iff a waiting lane's priority strictly
// exceeds the running job's effective priority. Probe errors are swallowed
// (no preemption on infrastructure trouble).
func (o *Oracle) ShouldPreempt(ctx context.Context, j *job.Job, now time.Time) bool {
	eff := j.EffectivePriority(now)
	if eff >= job.MaxPriority {
		// Nothing can strictly outrank the top lane.
		return false
	}
	top, err := o.queue.HighestWaiting(ctx)
	if err != nil {
		o.log.Debug("preemption probe failed", logx.Err(err))
		return false
	}
	return top > eff
}
