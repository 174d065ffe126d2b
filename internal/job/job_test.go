package job

import (
	"testing"
	"time"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		typ      Type
		priority int
		delayMs  int64
		execSecs float64
		wantErr  bool
	}{
		{name: "ok", typ: TypeEmail, priority: 5},
		{name: "min priority", typ: TypeDelay, priority: 1},
		{name: "max priority", typ: TypeWebhook, priority: 10},
		{name: "priority too low", typ: TypeEmail, priority: 0, wantErr: true},
		{name: "priority too high", typ: TypeEmail, priority: 11, wantErr: true},
		{name: "missing type", typ: "", priority: 5, wantErr: true},
		{name: "negative delay", typ: TypeEmail, priority: 5, delayMs: -1, wantErr: true},
		{name: "negative exec time", typ: TypeEmail, priority: 5, execSecs: -1, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			j, err := New(tt.typ, nil, tt.priority, tt.delayMs, tt.execSecs, 3)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New error: %v", err)
			}
			if j.Status != StatusPending {
				t.Fatalf("Status = %s, want PENDING", j.Status)
			}
			if j.ID == "" {
				t.Fatal("expected generated id")
			}
			if string(j.Payload) != "{}" {
				t.Fatalf("Payload = %s, want {}", j.Payload)
			}
		})
	}
}

func TestNextRunAtHonorsDelay(t *testing.T) {
	t.Parallel()
	j, err := New(TypeDelay, nil, 5, 1500, 0, 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	got := j.NextRunAt.Sub(j.CreatedAt)
	if got != 1500*time.Millisecond {
		t.Fatalf("NextRunAt offset = %v, want 1.5s", got)
	}
	if j.Due(j.CreatedAt) {
		t.Fatal("job should not be due before its delay elapses")
	}
	if !j.Due(j.CreatedAt.Add(2 * time.Second)) {
		t.Fatal("job should be due after its delay elapses")
	}
}

func TestEffectivePriority(t *testing.T) {
	t.Parallel()
	base := time.Now()
	tests := []struct {
		name   string
		stored int
		age    time.Duration
		want   int
	}{
		{name: "fresh job keeps stored", stored: 3, age: 0, want: 3},
		{name: "one second adds one", stored: 3, age: time.Second, want: 4},
		{name: "sub-second adds nothing", stored: 3, age: 900 * time.Millisecond, want: 3},
		{name: "cap at ten", stored: 3, age: time.Minute, want: 10},
		{name: "already top stays top", stored: 10, age: 5 * time.Second, want: 10},
		{name: "clock skew clamps to stored", stored: 4, age: -3 * time.Second, want: 4},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := EffectivePriority(tt.stored, base, base.Add(tt.age))
			if got != tt.want {
				t.Fatalf("EffectivePriority = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEffectivePriorityMonotone(t *testing.T) {
	t.Parallel()
	created := time.Now()
	prev := 0
	for s := 0; s <= 15; s++ {
		got := EffectivePriority(2, created, created.Add(time.Duration(s)*time.Second))
		if got < prev {
			t.Fatalf("effective priority decreased at age %ds: %d < %d", s, got, prev)
		}
		if got > MaxPriority {
			t.Fatalf("effective priority exceeds cap: %d", got)
		}
		prev = got
	}
}

func TestAdvanceWorkClamped(t *testing.T) {
	t.Parallel()
	p := &ExecutionState{ExecutionTimeSecs: 2}
	p.AdvanceWork(0.6)
	p.AdvanceWork(0.6)
	if p.ExecutionTimeDoneSecs != 1.2 {
		t.Fatalf("done = %v, want 1.2", p.ExecutionTimeDoneSecs)
	}
	p.AdvanceWork(5)
	if p.ExecutionTimeDoneSecs != 2 {
		t.Fatalf("done = %v, want clamp at 2", p.ExecutionTimeDoneSecs)
	}
	if p.WorkRemainingSecs() != 0 {
		t.Fatalf("remaining = %v, want 0", p.WorkRemainingSecs())
	}
	p.AdvanceWork(-1)
	if p.ExecutionTimeDoneSecs != 2 {
		t.Fatal("negative advance must be ignored")
	}
}
