package audit

import (
	"context"
	"strings"

	"kernelq/internal/eventbus"
	"kernelq/internal/sched"
	logx "kernelq/pkg/logx"
)

// Recorder subscribes to the event bus and journals every job lifecycle
// event. Delivery is best-effort by the bus contract; a dropped event is a
// gap in forensics, never a scheduling fault.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run consumes events until ctx is canceled. No-op when the journal or the
// bus is disabled.
func (r *Recorder) Run(ctx context.Context) error {
	if r.store == nil || r.bus == nil {
		<-ctx.Done()
		return nil
	}
	events, unsub := r.bus.Subscribe(256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(ev.Type, "job.") && !strings.HasPrefix(ev.Type, "recovery.") {
				continue
			}
			je, ok := ev.Data.(sched.JobEvent)
			if !ok {
				continue
			}
			e := Event{
				At:          ev.Time,
				Kind:        ev.Type,
				JobID:       je.JobID,
				JobType:     string(je.Type),
				Status:      string(je.Status),
				Priority:    je.Priority,
				Worker:      je.Worker,
				RetryCount:  je.RetryCount,
				ResumeCount: je.ResumeCount,
				DoneSecs:    je.DoneSecs,
				Error:       je.Error,
			}
			if err := r.store.Append(ctx, e); err != nil {
				r.log.Debug("audit append failed", logx.Err(err))
			}
		}
	}
}
