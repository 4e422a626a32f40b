package proctor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	BlockSourceBackend  = "backend"
	BlockSourceProgress = "progress"
	BlockSourceCached   = "cached"
)

// BlockState is the learner's last known block status for a course. The
// gate takes and returns it by value; there is no shared copy.
type BlockState struct {
	StudentID string
	CourseID  string
	Blocked   bool
	Count     int
	Source    string
	CheckedAt time.Time
}

// BlockGate polls the backend-owned violation counter.
type BlockGate struct {
	backend Backend
	timeout time.Duration
	clock   Clock
	log     zerolog.Logger
}

func NewBlockGate(backend Backend, timeout time.Duration, clock Clock, log zerolog.Logger) *BlockGate {
	if clock == nil {
		clock = SystemClock()
	}
	return &BlockGate{
		backend: backend,
		timeout: timeout,
		clock:   clock,
		log:     log.With().Str("component", "block_gate").Logger(),
	}
}

// Check refreshes prev. The violation counter is asked first; if that fails
// the course-progress record is used; if both fail prev is kept.
func (g *BlockGate) Check(ctx context.Context, prev BlockState) BlockState {
	next := prev
	next.CheckedAt = g.clock.Now()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	status, err := g.backend.ViolationStatus(callCtx, prev.StudentID, prev.CourseID)
	cancel()
	if err == nil && status != nil && status.Success {
		next.Blocked = bool(status.IsBlocked)
		next.Count = status.Count
		next.Source = BlockSourceBackend
		return next
	}
	if err != nil {
		g.log.Warn().Err(err).Str("student_id", prev.StudentID).Msg("Violation status poll failed, falling back to progress")
	}

	callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	progress, err := g.backend.CourseProgress(callCtx, prev.StudentID, prev.CourseID)
	cancel()
	if err == nil && progress != nil {
		next.Blocked = bool(progress.IsBlocked)
		next.Count = progress.ViolationCount
		next.Source = BlockSourceProgress
		return next
	}
	if err != nil {
		g.log.Warn().Err(err).Str("student_id", prev.StudentID).Msg("Progress fallback failed, keeping cached block status")
	}

	next.Source = BlockSourceCached
	return next
}

// Watch checks immediately and then every interval until ctx ends, passing
// each result to fn.
func (g *BlockGate) Watch(ctx context.Context, st BlockState, interval time.Duration, fn func(BlockState)) {
	st = g.Check(ctx, st)
	fn(st)

	ticker := g.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			st = g.Check(ctx, st)
			fn(st)
		}
	}
}
