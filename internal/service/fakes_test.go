package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var errStore = errors.New("store unavailable")

type fakeViolations struct {
	mu      sync.Mutex
	records []model.ViolationRecord
	err     error
}

func (f *fakeViolations) Create(_ context.Context, v *model.ViolationRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	v.ID = int64(len(f.records) + 1)
	f.records = append(f.records, *v)
	return f.countLocked(v.StudentID, v.CourseID), nil
}

func (f *fakeViolations) Count(_ context.Context, studentID, courseID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(studentID, courseID), f.err
}

func (f *fakeViolations) countLocked(studentID, courseID string) int {
	n := 0
	for _, r := range f.records {
		if r.StudentID == studentID && r.CourseID == courseID {
			n++
		}
	}
	return n
}

func (f *fakeViolations) ListByCourse(_ context.Context, courseID string, limit int) ([]model.ViolationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ViolationRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].CourseID == courseID {
			out = append(out, f.records[i])
		}
	}
	return out, f.err
}

type fakeProgress struct {
	mu         sync.Mutex
	minted     bool
	progress   *model.CourseProgress
	lectures   []string
	tests      []model.TestAttemptRecord
	violations []model.ViolationEmbed
}

func (f *fakeProgress) Get(_ context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	if f.progress != nil {
		p := *f.progress
		return &p, nil
	}
	return &model.CourseProgress{StudentID: studentID, CourseID: courseID}, nil
}

func (f *fakeProgress) IsMinted(context.Context, string, string) (bool, error) {
	return f.minted, nil
}

func (f *fakeProgress) CompleteLecture(_ context.Context, _, _, lectureID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lectures = append(f.lectures, lectureID)
	return nil
}

func (f *fakeProgress) AppendTest(_ context.Context, _, _ string, rec model.TestAttemptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, rec)
	return nil
}

func (f *fakeProgress) AppendViolation(_ context.Context, _, _ string, v model.ViolationEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, v)
	return nil
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Put(_ context.Context, studentID, testID string, data []byte, contentType string, at time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := "evidence/" + studentID + "/" + testID + "/" + contentType
	f.keys = append(f.keys, key)
	return key, nil
}

type fakeBroker struct {
	events []model.ViolationEvent
}

func (f *fakeBroker) PublishViolation(_ context.Context, ev model.ViolationEvent) error {
	f.events = append(f.events, ev)
	return nil
}
