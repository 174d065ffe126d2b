package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kernelq/internal/job"
)

// ExecStates is the Execution-State Store (one PCB record per job,
// created lazily on first pickup).
type ExecStates struct {
	db *gorm.DB
}

func NewExecStates(db *gorm.DB) *ExecStates { return &ExecStates{db: db} }

// FindByJob returns ErrNotFound when the job has never been picked up.
func (s *ExecStates) FindByJob(ctx context.Context, jobID string) (*job.ExecutionState, error) {
	var p job.ExecutionState
	if err := s.db.WithContext(ctx).First(&p, "job_id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ExecStates) Create(ctx context.Context, p *job.ExecutionState) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *ExecStates) Save(ctx context.Context, p *job.ExecutionState) error {
	p.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(p).Error
}

// ListByStatus pages through PCBs in one status (the resumption scanner
// and the recovery coordinator both scan SUSPENDED).
func (s *ExecStates) ListByStatus(ctx context.Context, status job.ExecStatus, limit, offset int) ([]job.ExecutionState, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []job.ExecutionState
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id asc").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}
