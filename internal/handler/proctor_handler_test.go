package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	url        string
	violations *fakeViolationService
	progress   *fakeProgressService
	registry   *proctor.Registry
}

func proctorDefinition() *model.TestDefinition {
	return &model.TestDefinition{
		ID:              "test-1",
		CourseID:        "course-1",
		LectureID:       "lec-1",
		Title:           "Chapter 1 quiz",
		DurationMinutes: 10,
		PassingScore:    50,
		Questions: []model.Question{
			{ID: "q1", Text: "2+2", Type: model.QuestionTypeMultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: "4"},
			{ID: "q2", Text: "3+3", Type: model.QuestionTypeMultipleChoice, Options: []string{"6", "7"}, CorrectAnswer: "6"},
		},
	}
}

func newWSFixture(t *testing.T, violations *fakeViolationService) *wsFixture {
	t.Helper()
	progress := &fakeProgressService{}
	registry := proctor.NewRegistry(nil, zerolog.Nop())
	cfg := &config.Config{Proctor: config.DefaultProctorConfig(), BlockPollInterval: time.Hour}

	h := NewProctorHandler(
		&fakeCatalog{def: proctorDefinition()},
		registry,
		&fakeBackend{violations: violations, progress: progress},
		nil,
		nil,
		cfg,
		zerolog.Nop(),
	)
	r := gin.New()
	r.GET("/ws/courses/:course_id/tests/:test_id/proctor", withClaims(service.TokenTypeLearner, "learner-1"), h.ProctorStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &wsFixture{
		url:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/courses/course-1/tests/test-1/proctor",
		violations: violations,
		progress:   progress,
		registry:   registry,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Event string         `json:"event"`
	Code  string         `json:"code"`
	Data  map[string]any `json:"data"`
}

// readUntil skips events until one named name arrives.
func readUntil(t *testing.T, conn *websocket.Conn, name string) wireEvent {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", name)
		if ev.Event == name {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestProctorStream_SubmitPasses(t *testing.T) {
	fx := newWSFixture(t, &fakeViolationService{})
	conn := dial(t, fx.url)

	armed := readUntil(t, conn, string(model.EventArmed))
	assert.EqualValues(t, 600, armed.Data["remaining_seconds"])

	send(t, conn, map[string]any{"action": "start", "camera_available": true})
	readUntil(t, conn, string(model.EventFullscreenRequest))

	send(t, conn, map[string]any{"action": "answer", "index": 0, "answer": "4"})
	send(t, conn, map[string]any{"action": "answer", "index": 1, "answer": "7"})
	send(t, conn, map[string]any{"action": "submit"})

	graded := readUntil(t, conn, string(model.EventGraded))
	assert.EqualValues(t, 50, graded.Data["score"])
	assert.Equal(t, true, graded.Data["passed"])

	closed := readUntil(t, conn, string(model.EventClosed))
	assert.Equal(t, string(model.SessionPassed), closed.Data["state"])

	assert.Eventually(t, func() bool { return len(fx.progress.Updates()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return fx.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestProctorStream_SubmitRequiresAnswers(t *testing.T) {
	fx := newWSFixture(t, &fakeViolationService{})
	conn := dial(t, fx.url)

	readUntil(t, conn, string(model.EventArmed))
	send(t, conn, map[string]any{"action": "start", "camera_available": false})
	readUntil(t, conn, string(model.EventCameraUnavailable))

	send(t, conn, map[string]any{"action": "submit"})
	ev := readUntil(t, conn, "error")
	assert.Equal(t, "UNANSWERED_QUESTIONS", ev.Code)

	send(t, conn, map[string]any{"action": "ping"})
	readUntil(t, conn, "pong")
}

func TestProctorStream_EscapeFailsOnce(t *testing.T) {
	fx := newWSFixture(t, &fakeViolationService{})
	conn := dial(t, fx.url)

	readUntil(t, conn, string(model.EventArmed))
	send(t, conn, map[string]any{"action": "start", "camera_available": true})
	readUntil(t, conn, string(model.EventFullscreenRequest))

	send(t, conn, map[string]any{"action": "keydown", "key": "Escape"})
	failed := readUntil(t, conn, string(model.EventViolationFailed))
	assert.Equal(t, string(model.ViolationOther), failed.Data["violation_type"])

	closed := readUntil(t, conn, string(model.EventClosed))
	assert.Equal(t, string(model.SessionFailed), closed.Data["state"])

	assert.Eventually(t, func() bool { return len(fx.violations.Reports()) == 1 }, 2*time.Second, 10*time.Millisecond)
	report := fx.violations.Reports()[0]
	assert.Equal(t, "learner-1", report.StudentID)
	assert.Empty(t, report.ImageData)
}

func TestProctorStream_Blocked(t *testing.T) {
	fx := newWSFixture(t, &fakeViolationService{status: &model.ViolationStatus{Success: true, Count: 3, IsBlocked: true}})
	conn := dial(t, fx.url)

	status := readUntil(t, conn, string(model.EventBlockStatus))
	assert.Equal(t, true, status.Data["blocked"])
	ev := readUntil(t, conn, "error")
	assert.Equal(t, "LEARNER_BLOCKED", ev.Code)
}

func TestProctorStream_OneSessionPerLearner(t *testing.T) {
	fx := newWSFixture(t, &fakeViolationService{})
	first := dial(t, fx.url)
	readUntil(t, first, string(model.EventArmed))

	second := dial(t, fx.url)
	ev := readUntil(t, second, "error")
	assert.Equal(t, "SESSION_ALREADY_ACTIVE", ev.Code)

	send(t, first, map[string]any{"action": "close"})
	closed := readUntil(t, first, string(model.EventClosed))
	assert.Equal(t, string(model.SessionManuallyClosed), closed.Data["state"])
}
