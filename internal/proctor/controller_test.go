package proctor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	c        *Controller
	backend  *fakeBackend
	attempts *fakeAttempts
	clock    *fakeClock
	events   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		attempts: newFakeAttempts(),
		clock:    newFakeClock(),
		events:   &recorder{},
	}
	h.c = NewController("s1", testConfig(), Deps{
		Backend:  h.backend,
		Attempts: h.attempts,
		Notifier: h.events,
		Wallet:   NewWalletResolver(nopLogger(), StaticWallet("connected", "0xw")),
		Clock:    h.clock,
		Log:      nopLogger(),
	})
	return h
}

func testDefinition() *model.TestDefinition {
	return &model.TestDefinition{
		ID:              "t1",
		CourseID:        "c1",
		LectureID:       "l1",
		EducatorID:      "e1",
		Title:           "Chapter 1 quiz",
		DurationMinutes: 10,
		Questions: []model.Question{
			mcq("q1", "a"), mcq("q2", "b"), mcq("q3", "c"), mcq("q4", "a"), essay("q5"),
		},
	}
}

func (h *harness) start(t *testing.T, def *model.TestDefinition, camera bool) {
	t.Helper()
	require.NoError(t, h.c.Arm(context.Background(), def))
	require.NoError(t, h.c.Start(context.Background(), StartOptions{CameraAvailable: camera}))
}

func (h *harness) waitDone(t *testing.T) Outcome {
	t.Helper()
	select {
	case <-h.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down")
	}
	h.c.Wait()
	return h.c.Outcome()
}

func TestController_ArmComputesRemainingFromTimeSpent(t *testing.T) {
	h := newHarness(t)
	h.backend.progress = &model.CourseProgress{Tests: []model.TestAttemptRecord{
		{TestID: "t1", TimeSpent: 240, SubmittedAt: t0},
	}}

	require.NoError(t, h.c.Arm(context.Background(), testDefinition()))
	s := h.c.Snapshot()
	assert.Equal(t, model.SessionArmed, s.State)
	assert.Equal(t, 600, s.Duration)
	assert.Equal(t, 360, s.RemainingSeconds)

	ev, ok := h.events.Last(model.EventArmed)
	require.True(t, ok)
	armed := ev.Data.(model.ArmedData)
	assert.Equal(t, 70, armed.PassingScore)
	assert.Len(t, armed.Questions, 5)
}

func TestController_ArmUsesLargerAttemptCache(t *testing.T) {
	h := newHarness(t)
	h.attempts.spent["t1"] = 700

	require.NoError(t, h.c.Arm(context.Background(), testDefinition()))
	assert.Equal(t, 0, h.c.Snapshot().RemainingSeconds, "never negative")
}

func TestController_ArmRejectsBlockedLearner(t *testing.T) {
	h := newHarness(t)
	h.backend.status = &model.ViolationStatus{Success: true, Count: 3, IsBlocked: true}

	err := h.c.Arm(context.Background(), testDefinition())
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, 3, blocked.Count)
	assert.Equal(t, model.SessionIdle, h.c.Snapshot().State)
}

func TestController_ArmRejectsPassedTest(t *testing.T) {
	h := newHarness(t)
	h.backend.progress = &model.CourseProgress{Tests: []model.TestAttemptRecord{{TestID: "t1", Passed: true}}}

	assert.ErrorIs(t, h.c.Arm(context.Background(), testDefinition()), ErrAlreadyPassed)
}

func TestController_StartRequiresArmed(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.c.Start(context.Background(), StartOptions{}), ErrInvalidTransition)
}

func TestController_SubmitPassesAndPushesResult(t *testing.T) {
	h := newHarness(t)
	h.start(t, testDefinition(), true)

	types := h.events.Types()
	assert.Contains(t, types, model.EventFullscreenRequest)
	assert.Contains(t, types, model.EventCountdown)

	for i, a := range []string{"a", "b", "c", "b"} {
		require.NoError(t, h.c.Answer(i, a))
	}
	_, err := h.c.Submit()
	assert.ErrorIs(t, err, ErrUnanswered)

	require.NoError(t, h.c.Answer(4, "an essay"))
	require.NoError(t, h.c.Navigate(4))
	assert.ErrorIs(t, h.c.Answer(5, "x"), ErrQuestionIndex)

	res, err := h.c.Submit()
	require.NoError(t, err)
	assert.Equal(t, 75, res.Score)
	assert.True(t, res.Passed)

	again, err := h.c.Submit()
	require.NoError(t, err)
	assert.Same(t, res, again)

	out := h.waitDone(t)
	assert.Equal(t, model.SessionPassed, out.State)
	assert.Equal(t, 1, h.events.Count(model.EventGraded))
	assert.Equal(t, 1, h.events.Count(model.EventFullscreenRelease))
	assert.Equal(t, model.SessionIdle, h.c.Snapshot().State)
	assert.Empty(t, h.c.Snapshot().Answers)

	updates := h.backend.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, model.ProgressTest, updates[0].Kind())
	assert.Equal(t, 75, updates[0].Test.Score)
	assert.Contains(t, h.attempts.cleared, "t1")
}

func TestController_FailedScoreIsNotPushed(t *testing.T) {
	h := newHarness(t)
	h.start(t, testDefinition(), true)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.c.Answer(i, "z"))
	}
	res, err := h.c.Submit()
	require.NoError(t, err)
	assert.False(t, res.Passed)

	out := h.waitDone(t)
	assert.Equal(t, model.SessionFailed, out.State)
	assert.Empty(t, h.backend.Updates())
}

func TestController_TimerExpiryAutoSubmits(t *testing.T) {
	h := newHarness(t)
	def := testDefinition()
	def.DurationMinutes = 1
	h.attempts.spent["t1"] = 58
	h.start(t, def, true)
	require.NoError(t, h.c.Answer(0, "a"))

	require.True(t, h.clock.Tick(t), "countdown")
	require.True(t, h.clock.Tick(t))
	require.Eventually(t, func() bool { return h.c.Snapshot().RemainingSeconds == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, h.clock.Tick(t))

	out := h.waitDone(t)
	require.NotNil(t, out.Result)
	assert.Equal(t, 25, out.Result.Score)
	assert.Equal(t, 60, out.Result.TimeSpent)

	res, err := h.c.Submit()
	require.NoError(t, err)
	assert.Same(t, out.Result, res)
}

func TestController_PhoneFailsAttemptOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t, testDefinition(), true)
	h.c.ObserveFrame([]byte{0xff, 0xd8, 0xff}, "image/jpeg")

	require.True(t, h.c.ObserveFace(FaceSample{At: h.clock.Now(), FaceDetected: true, Yaw: 30}))
	require.True(t, h.c.ObserveObjects(ObjectFrame{At: h.clock.Now(), Detections: []Detection{{Class: "cell phone", Score: 0.9}}}))

	out := h.waitDone(t)
	assert.Equal(t, model.SessionFailed, out.State)
	assert.Nil(t, out.Result)
	require.NotNil(t, out.Incident)
	assert.Equal(t, model.ViolationPhoneDetected, out.Incident.Type)
	assert.True(t, h.c.ExitAttempted())
	assert.Equal(t, 1, h.events.Count(model.EventViolationFailed))

	// Late hard signals are observed but never terminate again.
	h.c.handleSignal(raise(model.ViolationFullscreenExit, model.SeverityFail, h.clock.Now()))
	assert.Equal(t, 1, h.events.Count(model.EventViolationFailed))
	assert.Equal(t, 1, h.events.Count(model.EventClosed))

	reports := h.backend.Reports()
	require.Len(t, reports, 1, "one report per session")
	assert.Equal(t, "0xw", reports[0].WalletAddress)
}

func TestController_EscapeFailsWithoutEvidence(t *testing.T) {
	h := newHarness(t)
	h.start(t, testDefinition(), true)
	h.c.ObserveFrame([]byte{0xff, 0xd8, 0xff}, "image/jpeg")

	require.True(t, h.c.ObserveKey(KeyEvent{At: h.clock.Now(), Key: "Escape"}))
	out := h.waitDone(t)

	assert.Equal(t, model.SessionFailed, out.State)
	reports := h.backend.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "other", reports[0].ViolationType)
	assert.Equal(t, "Escape key pressed", reports[0].Message)
	assert.Empty(t, reports[0].ImageData)
}

func TestController_WarningIsReportedButDoesNotEnd(t *testing.T) {
	h := newHarness(t)
	h.start(t, testDefinition(), true)

	require.True(t, h.c.ObserveFace(FaceSample{At: h.clock.Now(), FaceDetected: true, Yaw: 30}))
	require.Eventually(t, func() bool { return h.events.Count(model.EventWarning) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.backend.Reports()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, model.SessionRunning, h.c.Snapshot().State)
	require.NoError(t, h.c.Close())
	h.waitDone(t)
}

func TestController_CloseSavesTimeSpent(t *testing.T) {
	h := newHarness(t)
	h.attempts.spent["t1"] = 100
	h.start(t, testDefinition(), false)

	require.True(t, h.clock.Tick(t))
	require.True(t, h.clock.Tick(t))
	require.Eventually(t, func() bool { return h.c.Snapshot().RemainingSeconds == 499 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Close())
	out := h.waitDone(t)
	assert.Equal(t, model.SessionManuallyClosed, out.State)
	assert.Equal(t, 101, out.TimeSpent)

	saved, ok := h.attempts.Saved("t1")
	require.True(t, ok)
	assert.Equal(t, 101, saved)
	assert.NoError(t, h.c.Close(), "closing twice is a no-op")
	assert.ErrorIs(t, h.c.Arm(context.Background(), testDefinition()), ErrSessionClosed)
}

func TestController_ContextCancelTearsDown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Arm(context.Background(), testDefinition()))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.c.Start(ctx, StartOptions{CameraAvailable: true}))

	cancel()
	out := h.waitDone(t)
	assert.Equal(t, model.SessionManuallyClosed, out.State)
	assert.Equal(t, 1, h.events.Count(model.EventFullscreenRelease))
}

func TestController_CameraUnavailable(t *testing.T) {
	h := newHarness(t)
	h.start(t, testDefinition(), false)

	assert.Equal(t, 1, h.events.Count(model.EventCameraUnavailable))
	assert.False(t, h.c.ObserveFace(FaceSample{At: h.clock.Now()}))
	assert.False(t, h.c.ObserveObjects(ObjectFrame{At: h.clock.Now()}))

	require.NoError(t, h.c.Close())
	h.waitDone(t)
}

func TestController_OnCloseAfterTeardownRunsImmediately(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Close())
	h.waitDone(t)

	called := false
	h.c.OnClose(func(Outcome) { called = true })
	assert.True(t, called)
}
