package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	PollTimeout = 1 * time.Second // Must be >= 1s to satisfy Redis
	RetryDelay  = 5 * time.Second
	// MaxAttempts moves an update to the dead-letter list after this many failures.
	MaxAttempts = 5
)

// ProgressApplier writes one queued progress update.
type ProgressApplier interface {
	Apply(ctx context.Context, job model.ProgressJob) error
}

// Queue is the subset of *redis.Client the worker uses.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// ProgressWorker consumes persist_progress_queue and applies each update to
// PostgreSQL.
type ProgressWorker struct {
	rdb     Queue
	applier ProgressApplier
	log     zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(rdb Queue, applier ProgressApplier, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		rdb:     rdb,
		applier: applier,
		log:     log.With().Str("component", "progress_worker").Logger(),
	}
}

// queuedJob wraps a job with its retry count on the wire.
type queuedJob struct {
	model.ProgressJob
	Attempts int `json:"attempts,omitempty"`
}

type verdict int

const (
	verdictDone verdict = iota
	verdictRetry
	verdictDead
)

// Start begins the worker loop. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ProgressWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout.
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProgressQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	// The item is already off the queue, so putting it back must outlive
	// a shutdown that cancels ctx mid-apply.
	job, v := w.process(ctx, result[1])
	if v == verdictRetry {
		w.requeue(context.WithoutCancel(ctx), job)
		sleep(ctx, RetryDelay)
	} else if v == verdictDead {
		w.bury(context.WithoutCancel(ctx), result[1])
	}
}

// process applies one raw queue item and decides what happens to it.
func (w *ProgressWorker) process(ctx context.Context, raw string) (queuedJob, verdict) {
	var job queuedJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return job, verdictDead
	}
	if fields := validator.Struct(job.Request); fields != nil || job.StudentID == "" {
		w.log.Error().Interface("fields", fields).Str("student_id", job.StudentID).Msg("Invalid progress update")
		return job, verdictDead
	}

	if err := w.applier.Apply(ctx, job.ProgressJob); err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the write, so the attempt is not counted.
			w.log.Warn().Err(err).Str("student_id", job.StudentID).Msg("Persist interrupted, requeueing")
			return job, verdictRetry
		}
		job.Attempts++
		ev := w.log.Error().Err(err).
			Str("student_id", job.StudentID).
			Str("course_id", job.Request.CourseID).
			Str("kind", string(job.Request.Kind())).
			Int("attempts", job.Attempts)
		if job.Attempts >= MaxAttempts {
			ev.Msg("Persist failed, moving to dead letter")
			return job, verdictDead
		}
		ev.Msg("Persist error, retrying")
		return job, verdictRetry
	}
	return job, verdictDone
}

func (w *ProgressWorker) requeue(ctx context.Context, job queuedJob) {
	payload, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := w.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, payload).Err(); err != nil {
		w.log.Error().Err(err).Msg("Requeue failed, update lost")
	}
}

func (w *ProgressWorker) bury(ctx context.Context, raw string) {
	if err := w.rdb.RPush(ctx, config.WorkerKey.ProgressDeadLetterQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Msg("Dead-letter push failed")
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *ProgressWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistProgressQueue).Result()
		if err != nil {
			break
		}

		job, v := w.process(ctx, raw)
		if v == verdictRetry {
			// Leave it for the next instance.
			w.requeue(ctx, job)
			break
		}
		if v == verdictDead {
			w.bury(ctx, raw)
			continue
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
