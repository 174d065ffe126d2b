package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "kernelq/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestGoReportsFirstError(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	boom := errors.New("store unreachable")
	sup.Go("failing", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); !errors.Is(err, boom) {
		t.Fatalf("Stop() = %v, want wrapped %v", err, boom)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	sup.Go("panicky", func(ctx context.Context) error { panic("nil pcb") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err == nil {
		t.Fatal("Stop() = nil, want panic surfaced as error")
	}
	snap := sup.Snapshot()
	if len(snap.Loops) != 1 || snap.Loops[0].Panics != 1 {
		t.Fatalf("snapshot = %+v, want one loop with one panic", snap.Loops)
	}
}

func TestCancelOnErrorStopsSiblings(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))
	sibling := make(chan struct{})
	sup.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		close(sibling)
		return nil
	})
	sup.Go("failing", func(ctx context.Context) error { return errors.New("boom") })

	select {
	case <-sibling:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling loop not cancelled after failure")
	}
}

func TestGoRestartRetriesFailingLoop(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	runs := make(chan struct{}, 16)
	sup.GoRestart("flaky", func(ctx context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	waitFor(t, func() bool { return len(runs) >= 3 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sup.Stop(ctx)

	snap := sup.Snapshot()
	if len(snap.Loops) != 1 || snap.Loops[0].Restarts < 2 {
		t.Fatalf("snapshot = %+v, want restarts >= 2", snap.Loops)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	runs := make(chan struct{}, 16)
	sup.GoRestart("oneshot", func(ctx context.Context) error {
		runs <- struct{}{}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := len(runs); got != 1 {
		t.Fatalf("loop ran %d times, want 1 (clean exit must not restart)", got)
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	runs := make(chan struct{}, 16)
	sup.GoRestart("flaky", func(ctx context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return errors.New("listen refused")
	},
		WithRestartBackoff(time.Millisecond, time.Millisecond),
		WithPublishFirstError(true),
	)

	waitFor(t, func() bool { return sup.Err() != nil })
	if len(runs) == 0 {
		t.Fatal("loop never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sup.Stop(ctx)
}
