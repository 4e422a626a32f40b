package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var errUnavailable = errors.New("backend unavailable")

type fakeBackend struct {
	mu sync.Mutex

	status    *model.ViolationStatus
	statusErr error
	progress  *model.CourseProgress
	progErr   error

	reportResp *model.ViolationReportResponse
	reportErr  error
	// reportGate, when set, blocks ReportViolation until closed.
	reportGate chan struct{}
	// reportFn, when set, answers the nth report (1-based).
	reportFn func(n int) (*model.ViolationReportResponse, error)

	reports []model.ViolationReportRequest
	updates []model.ProgressUpdateRequest
	updErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		status:     &model.ViolationStatus{Success: true},
		reportResp: &model.ViolationReportResponse{Success: true, Count: 1},
	}
}

func (f *fakeBackend) ReportViolation(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error) {
	f.mu.Lock()
	gate := f.reportGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, req)
	if f.reportFn != nil {
		return f.reportFn(len(f.reports))
	}
	return f.reportResp, f.reportErr
}

func (f *fakeBackend) ViolationStatus(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeBackend) CourseProgress(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress, f.progErr
}

func (f *fakeBackend) UpdateCourseProgress(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	return f.updErr
}

func (f *fakeBackend) Reports() []model.ViolationReportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ViolationReportRequest(nil), f.reports...)
}

func (f *fakeBackend) Updates() []model.ProgressUpdateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProgressUpdateRequest(nil), f.updates...)
}

type fakeAttempts struct {
	mu      sync.Mutex
	spent   map[string]int
	saved   map[string]int
	cleared []string
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{spent: map[string]int{}, saved: map[string]int{}}
}

func (a *fakeAttempts) TimeSpent(ctx context.Context, studentID, testID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent[testID], nil
}

func (a *fakeAttempts) SaveTimeSpent(ctx context.Context, studentID, testID string, seconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[testID] = seconds
	return nil
}

func (a *fakeAttempts) ClearTimeSpent(ctx context.Context, studentID, testID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared = append(a.cleared, testID)
	return nil
}

func (a *fakeAttempts) Saved(testID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.saved[testID]
	return v, ok
}

type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
	timer  *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	return c.ticker
}

func (c *fakeClock) NewTimer(time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	return c.timer
}

// FireTimer expires the most recent timer. It reports false if that timer
// was stopped first.
func (c *fakeClock) FireTimer(t *testing.T) bool {
	t.Helper()
	c.mu.Lock()
	tm := c.timer
	now := c.now
	c.mu.Unlock()
	if tm == nil {
		t.Fatal("no timer created")
	}
	select {
	case tm.ch <- now:
		return true
	case <-tm.stopped:
		return false
	case <-time.After(2 * time.Second):
		t.Fatal("timer not consumed")
		return false
	}
}

// Tick delivers one tick to the session loop. It reports false if the
// ticker was stopped before the tick was taken.
func (c *fakeClock) Tick(t *testing.T) bool {
	t.Helper()
	c.mu.Lock()
	tk := c.ticker
	now := c.now
	c.mu.Unlock()
	if tk == nil {
		t.Fatal("no ticker created")
	}
	select {
	case tk.ch <- now:
		return true
	case <-tk.stopped:
		return false
	case <-time.After(2 * time.Second):
		t.Fatal("tick not consumed")
		return false
	}
}

type recorder struct {
	mu     sync.Mutex
	events []model.ProctorEvent
}

func (r *recorder) Notify(ev model.ProctorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) Last(t model.EventType) (model.ProctorEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return model.ProctorEvent{}, false
}

func (r *recorder) Count(t model.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func testConfig() config.ProctorConfig {
	cfg := config.DefaultProctorConfig()
	cfg.ReportTimeout = time.Second
	return cfg
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
