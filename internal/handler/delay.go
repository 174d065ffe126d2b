package handler

import (
	"context"

	"kernelq/internal/job"
)

// Delay is the no-op handler: DELAY jobs exist for their scheduling
// behavior (delay plus simulated work); there is no payload side effect.
type Delay struct{}

func (Delay) Run(context.Context, *job.Job) error { return nil }
