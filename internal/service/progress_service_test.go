package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressService_ApplyVariants(t *testing.T) {
	store := &fakeProgress{}
	svc := NewProgressService(store, nil, 3, zerolog.Nop())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, "learner-1", model.ProgressUpdateRequest{CourseID: "c", LectureID: "lec-1"}))
	require.NoError(t, svc.Enqueue(ctx, "learner-1", model.ProgressUpdateRequest{
		CourseID:  "c",
		LectureID: "lec-2",
		Test:      &model.TestProgress{Passed: true, Score: 80, TimeSpent: 120},
	}))
	require.NoError(t, svc.Enqueue(ctx, "learner-1", model.ProgressUpdateRequest{
		CourseID:  "c",
		LectureID: "lec-2",
		TestID:    "test-9",
		Test:      &model.TestProgress{Passed: false, Score: 40},
	}))
	require.NoError(t, svc.Enqueue(ctx, "learner-1", model.ProgressUpdateRequest{
		CourseID:  "c",
		LectureID: "lec-2",
		Violation: &model.ViolationEmbed{Type: "PHONE_DETECTED", Message: "Phone detected"},
	}))

	assert.Equal(t, []string{"lec-1"}, store.lectures)
	require.Len(t, store.tests, 2)
	assert.Equal(t, "lec-2", store.tests[0].TestID)
	assert.Equal(t, at, store.tests[0].SubmittedAt)
	assert.Equal(t, "test-9", store.tests[1].TestID)
	require.Len(t, store.violations, 1)
	assert.Equal(t, model.ViolationPhoneDetected, store.violations[0].Type)
	assert.Equal(t, "2026-03-02T09:00:00Z", store.violations[0].Timestamp)
}

func TestProgressService_Rejects(t *testing.T) {
	ctx := context.Background()

	minted := NewProgressService(&fakeProgress{minted: true}, nil, 3, zerolog.Nop())
	err := minted.Enqueue(ctx, "learner-1", model.ProgressUpdateRequest{CourseID: "c", LectureID: "l"})
	assert.ErrorIs(t, err, ErrCertificateMinted)

	svc := NewProgressService(&fakeProgress{}, nil, 3, zerolog.Nop())
	err = svc.Enqueue(ctx, "learner-1", model.ProgressUpdateRequest{
		CourseID:  "c",
		LectureID: "l",
		Test:      &model.TestProgress{},
		Violation: &model.ViolationEmbed{},
	})
	assert.ErrorIs(t, err, ErrInvalidProgressUpdate)
}

func TestProgressService_GetDerivesBlock(t *testing.T) {
	store := &fakeProgress{progress: &model.CourseProgress{StudentID: "learner-1", CourseID: "c", ViolationCount: 3}}
	svc := NewProgressService(store, nil, 3, zerolog.Nop())

	p, err := svc.Get(context.Background(), "learner-1", "c")
	require.NoError(t, err)
	assert.True(t, bool(p.IsBlocked))
	assert.NotNil(t, p.CompletedLectures)
	assert.NotNil(t, p.Tests)
	assert.NotNil(t, p.Violations)

	_, err = svc.Get(context.Background(), "learner-1", "")
	assert.ErrorIs(t, err, ErrMissingLearner)
}
