package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// Domain Errors
var (
	// ErrCertificateMinted carries the "minted as an NFT" wording the engine
	// and remote clients recognise.
	ErrCertificateMinted = proctor.ErrAlreadyMinted
	ErrMissingLearner    = errors.New("studentId and courseId are required")
)

// RecentViolationsLimit caps the monitor backlog.
const RecentViolationsLimit = 50

type violationStore interface {
	Create(ctx context.Context, v *model.ViolationRecord) (int, error)
	Count(ctx context.Context, studentID, courseID string) (int, error)
	ListByCourse(ctx context.Context, courseID string, limit int) ([]model.ViolationRecord, error)
}

type mintChecker interface {
	IsMinted(ctx context.Context, studentID, courseID string) (bool, error)
}

// EvidenceUploader stores decoded evidence stills and returns their key.
type EvidenceUploader interface {
	Put(ctx context.Context, studentID, testID string, data []byte, contentType string, at time.Time) (string, error)
}

// ViolationBroker forwards violation events to downstream consumers.
type ViolationBroker interface {
	PublishViolation(ctx context.Context, ev model.ViolationEvent) error
}

// ViolationService records violation reports and derives the block status.
type ViolationService struct {
	violations violationStore
	progress   mintChecker
	evidence   EvidenceUploader
	broker     ViolationBroker
	rdb        *redis.Client
	threshold  int
	now        func() time.Time
	log        zerolog.Logger
}

// NewViolationService creates a new ViolationService. evidence, broker and
// rdb are optional: without an uploader the still is stored inline.
func NewViolationService(
	violations violationStore,
	progress mintChecker,
	evidence EvidenceUploader,
	broker ViolationBroker,
	rdb *redis.Client,
	threshold int,
	log zerolog.Logger,
) *ViolationService {
	return &ViolationService{
		violations: violations,
		progress:   progress,
		evidence:   evidence,
		broker:     broker,
		rdb:        rdb,
		threshold:  threshold,
		now:        time.Now,
		log:        log.With().Str("component", "violation_service").Logger(),
	}
}

// Blocked reports whether count reaches the block threshold.
func (s *ViolationService) Blocked(count int) bool {
	return s.threshold > 0 && count >= s.threshold
}

// Report persists one violation incident.
func (s *ViolationService) Report(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error) {
	minted, err := s.progress.IsMinted(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, fmt.Errorf("check minted: %w", err)
	}
	if minted {
		return nil, ErrCertificateMinted
	}

	now := s.now()
	rec := &model.ViolationRecord{
		StudentID:     req.StudentID,
		CourseID:      req.CourseID,
		TestID:        req.TestID,
		ViolationType: model.ParseViolationType(req.ViolationType),
		Message:       strings.TrimSpace(req.Message),
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		EducatorID:    req.EducatorID,
	}
	for _, t := range req.AllViolations {
		rec.AllViolations = append(rec.AllViolations, model.ParseViolationType(t))
	}
	if rec.Message == "" {
		rec.Message = rec.ViolationType.Phrase()
	}
	s.attachEvidence(ctx, rec, req.ImageData, now)

	count, err := s.violations.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert violation: %w", err)
	}
	blocked := s.Blocked(count)

	s.log.Info().
		Str("student_id", rec.StudentID).
		Str("course_id", rec.CourseID).
		Str("test_id", rec.TestID).
		Str("violation_type", string(rec.ViolationType)).
		Int("count", count).
		Bool("blocked", blocked).
		Msg("Violation recorded")

	s.publish(ctx, model.ViolationEvent{
		Type:          "violation",
		StudentID:     rec.StudentID,
		CourseID:      rec.CourseID,
		TestID:        rec.TestID,
		ViolationType: rec.ViolationType,
		Message:       rec.Message,
		Count:         count,
		IsBlocked:     blocked,
		RecordedAt:    now.UTC(),
	})

	return &model.ViolationReportResponse{
		Success:   true,
		Message:   "Violation recorded",
		Count:     count,
		IsBlocked: model.FlexBool(blocked),
	}, nil
}

// attachEvidence uploads the still when an object store is configured and
// falls back to keeping the data URL inline.
func (s *ViolationService) attachEvidence(ctx context.Context, rec *model.ViolationRecord, imageData string, at time.Time) {
	if imageData == "" {
		return
	}
	if s.evidence == nil {
		rec.EvidenceImage = imageData
		return
	}
	data, contentType, err := proctor.DecodeDataURL(imageData)
	if err != nil {
		s.log.Warn().Err(err).Msg("Discarding malformed evidence image")
		return
	}
	key, err := s.evidence.Put(ctx, rec.StudentID, rec.TestID, data, contentType, at)
	if err != nil {
		s.log.Warn().Err(err).Msg("Evidence upload failed, storing inline")
		rec.EvidenceImage = imageData
		return
	}
	rec.EvidenceObject = key
}

func (s *ViolationService) publish(ctx context.Context, ev model.ViolationEvent) {
	if s.rdb != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = s.rdb.Publish(ctx, config.CacheKey.CourseViolationChannel(ev.CourseID), payload).Err()
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("Monitor publish failed")
		}
	}
	if s.broker != nil {
		if err := s.broker.PublishViolation(ctx, ev); err != nil {
			s.log.Warn().Err(err).Msg("Broker publish failed")
		}
	}
}

// Status returns the learner's cumulative count and block flag.
func (s *ViolationService) Status(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error) {
	if studentID == "" || courseID == "" {
		return nil, ErrMissingLearner
	}
	count, err := s.violations.Count(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	return &model.ViolationStatus{
		Success:   true,
		Count:     count,
		IsBlocked: model.FlexBool(s.Blocked(count)),
	}, nil
}

// Recent returns the latest violations of a course for the educator monitor.
func (s *ViolationService) Recent(ctx context.Context, courseID string) ([]model.ViolationRecord, error) {
	records, err := s.violations.ListByCourse(ctx, courseID, RecentViolationsLimit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.ViolationRecord{}
	}
	return records, nil
}
