package handler

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// withClaims stands in for the JWT middleware.
func withClaims(tt service.TokenType, userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: tt, UserID: userID})
		c.Next()
	}
}

type fakeViolationService struct {
	mu      sync.Mutex
	reports []model.ViolationReportRequest
	err     error
	status  *model.ViolationStatus
}

func (f *fakeViolationService) Report(_ context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reports = append(f.reports, req)
	return &model.ViolationReportResponse{Success: true, Message: "Violation recorded", Count: len(f.reports)}, nil
}

func (f *fakeViolationService) Status(_ context.Context, studentID, courseID string) (*model.ViolationStatus, error) {
	if studentID == "" || courseID == "" {
		return nil, service.ErrMissingLearner
	}
	if f.status != nil {
		return f.status, nil
	}
	return &model.ViolationStatus{Success: true}, nil
}

func (f *fakeViolationService) Recent(context.Context, string) ([]model.ViolationRecord, error) {
	return []model.ViolationRecord{}, nil
}

func (f *fakeViolationService) Reports() []model.ViolationReportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ViolationReportRequest(nil), f.reports...)
}

type fakeProgressService struct {
	mu       sync.Mutex
	progress *model.CourseProgress
	updates  []model.ProgressUpdateRequest
	err      error
}

func (f *fakeProgressService) Get(_ context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	if courseID == "" {
		return nil, service.ErrMissingLearner
	}
	if f.progress != nil {
		return f.progress, nil
	}
	return &model.CourseProgress{StudentID: studentID, CourseID: courseID}, nil
}

func (f *fakeProgressService) Enqueue(_ context.Context, _ string, req model.ProgressUpdateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, req)
	return nil
}

func (f *fakeProgressService) Updates() []model.ProgressUpdateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProgressUpdateRequest(nil), f.updates...)
}

// fakeBackend adapts the two fakes to the engine's Backend contract.
type fakeBackend struct {
	violations *fakeViolationService
	progress   *fakeProgressService
}

func (b *fakeBackend) ReportViolation(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error) {
	return b.violations.Report(ctx, req)
}

func (b *fakeBackend) ViolationStatus(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error) {
	return b.violations.Status(ctx, studentID, courseID)
}

func (b *fakeBackend) CourseProgress(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	return b.progress.Get(ctx, studentID, courseID)
}

func (b *fakeBackend) UpdateCourseProgress(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error {
	return b.progress.Enqueue(ctx, studentID, req)
}

type fakeCatalog struct {
	def *model.TestDefinition
}

func (f *fakeCatalog) Definition(_ context.Context, courseID, testID string) (*model.TestDefinition, error) {
	if f.def == nil || f.def.ID != testID {
		return nil, service.ErrTestNotFound
	}
	if f.def.CourseID != courseID {
		return nil, service.ErrTestMismatch
	}
	return f.def, nil
}
