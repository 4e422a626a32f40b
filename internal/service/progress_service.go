package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var ErrInvalidProgressUpdate = errors.New("a progress update carries at most one of test or violation")

type progressStore interface {
	Get(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error)
	IsMinted(ctx context.Context, studentID, courseID string) (bool, error)
	CompleteLecture(ctx context.Context, studentID, courseID, lectureID string) error
	AppendTest(ctx context.Context, studentID, courseID string, rec model.TestAttemptRecord) error
	AppendViolation(ctx context.Context, studentID, courseID string, v model.ViolationEmbed) error
}

// progressQueue is the Redis list the progress worker drains.
type progressQueue interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// ProgressService handles course-progress reads and queued updates.
type ProgressService struct {
	store     progressStore
	queue     progressQueue
	threshold int
	now       func() time.Time
	log       zerolog.Logger
}

// NewProgressService creates a new ProgressService. A nil queue applies
// updates synchronously.
func NewProgressService(store progressStore, queue progressQueue, threshold int, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		store:     store,
		queue:     queue,
		threshold: threshold,
		now:       time.Now,
		log:       log.With().Str("component", "progress_service").Logger(),
	}
}

// Get returns the learner's progress with the block flag derived from the
// violation count.
func (s *ProgressService) Get(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	if studentID == "" || courseID == "" {
		return nil, ErrMissingLearner
	}
	p, err := s.store.Get(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	p.IsBlocked = model.FlexBool(s.threshold > 0 && p.ViolationCount >= s.threshold)
	if p.CompletedLectures == nil {
		p.CompletedLectures = []string{}
	}
	if p.Tests == nil {
		p.Tests = []model.TestAttemptRecord{}
	}
	if p.Violations == nil {
		p.Violations = []model.ViolationEmbed{}
	}
	return p, nil
}

// Enqueue validates an update and hands it to the progress worker. Minted
// records are rejected up front.
func (s *ProgressService) Enqueue(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error {
	if req.Test != nil && req.Violation != nil {
		return ErrInvalidProgressUpdate
	}
	minted, err := s.store.IsMinted(ctx, studentID, req.CourseID)
	if err != nil {
		return fmt.Errorf("check minted: %w", err)
	}
	if minted {
		return ErrCertificateMinted
	}

	job := model.ProgressJob{StudentID: studentID, Request: req, ReceivedAt: s.now().UTC()}
	if s.queue == nil {
		return s.Apply(ctx, job)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := s.queue.RPush(ctx, config.WorkerKey.PersistProgressQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Progress queue unavailable, applying inline")
		return s.Apply(ctx, job)
	}
	return nil
}

// Apply writes one update to the progress store.
func (s *ProgressService) Apply(ctx context.Context, job model.ProgressJob) error {
	req := job.Request
	switch req.Kind() {
	case model.ProgressTest:
		testID := req.TestID
		if testID == "" {
			testID = req.LectureID
		}
		return s.store.AppendTest(ctx, job.StudentID, req.CourseID, model.TestAttemptRecord{
			TestID:      testID,
			LectureID:   req.LectureID,
			Passed:      req.Test.Passed,
			Score:       req.Test.Score,
			TimeSpent:   req.Test.TimeSpent,
			Answers:     req.Test.Answers,
			SubmittedAt: job.ReceivedAt,
		})
	case model.ProgressViolation:
		v := *req.Violation
		v.Type = model.ParseViolationType(string(v.Type))
		if v.Timestamp == "" {
			v.Timestamp = job.ReceivedAt.Format(time.RFC3339)
		}
		return s.store.AppendViolation(ctx, job.StudentID, req.CourseID, v)
	default:
		return s.store.CompleteLecture(ctx, job.StudentID, req.CourseID, req.LectureID)
	}
}
