// Package sched is the scheduling and execution-control core: the
// priority dispatch loop, the preemption/resume protocol around the
// per-job execution-state record, the aging engine, the delayed-job
// promotion pipeline, and crash recovery of in-flight state.
//
// All coordination between the loops (and between worker processes) goes
// through the durable stores and the atomic queue. The package introduces
// no in-process locks: the queue's atomic pop-if-present is the sole
// mutual-exclusion primitive, so the same code is correct whether the
// loops share a process or run on separate machines.
package sched
