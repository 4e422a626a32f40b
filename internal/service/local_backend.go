package service

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// LocalBackend lets the engine use the in-process violation and progress
// services instead of a remote backend.
type LocalBackend struct {
	violations *ViolationService
	progress   *ProgressService
}

var _ proctor.Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a new LocalBackend.
func NewLocalBackend(violations *ViolationService, progress *ProgressService) *LocalBackend {
	return &LocalBackend{violations: violations, progress: progress}
}

// ReportViolation implements proctor.Backend.
func (b *LocalBackend) ReportViolation(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error) {
	return b.violations.Report(ctx, req)
}

// ViolationStatus implements proctor.Backend.
func (b *LocalBackend) ViolationStatus(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error) {
	return b.violations.Status(ctx, studentID, courseID)
}

// CourseProgress implements proctor.Backend.
func (b *LocalBackend) CourseProgress(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	return b.progress.Get(ctx, studentID, courseID)
}

// UpdateCourseProgress implements proctor.Backend.
func (b *LocalBackend) UpdateCourseProgress(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error {
	return b.progress.Enqueue(ctx, studentID, req)
}
