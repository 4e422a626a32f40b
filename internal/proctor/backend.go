package proctor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrAlreadyMinted is returned by a Backend when the learner's course record
// is already minted as a certificate and can no longer be modified.
var ErrAlreadyMinted = errors.New("course progress already minted as an NFT")

// mintedMarker is the fragment a remote backend puts in its 400 message.
const mintedMarker = "minted as an NFT"

// Backend is the contract the engine consumes from the violation and
// course-progress backend. It is implemented by the HTTP client and by the
// in-process service adapter.
type Backend interface {
	ReportViolation(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error)
	ViolationStatus(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error)
	CourseProgress(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error)
	UpdateCourseProgress(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error
}

// AttemptStore keeps the time spent on partial attempts so a closed
// session can be resumed.
type AttemptStore interface {
	TimeSpent(ctx context.Context, studentID, testID string) (int, error)
	SaveTimeSpent(ctx context.Context, studentID, testID string, seconds int) error
	ClearTimeSpent(ctx context.Context, studentID, testID string) error
}

// Notifier receives session events for the browser. Implementations must
// not block.
type Notifier interface {
	Notify(ev model.ProctorEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev model.ProctorEvent)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ev model.ProctorEvent) { f(ev) }

type discardNotifier struct{}

func (discardNotifier) Notify(model.ProctorEvent) {}

// isMintedRejection recognises the backend's immutable-certificate answer,
// whether it arrives as an error or as an unsuccessful response body.
func isMintedRejection(err error, resp *model.ViolationReportResponse) bool {
	if err != nil {
		return errors.Is(err, ErrAlreadyMinted) || strings.Contains(err.Error(), mintedMarker)
	}
	return resp != nil && !resp.Success && strings.Contains(resp.Message, mintedMarker)
}

// Clock abstracts wall time, the session ticker and collector timers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

// Ticker is the subset of time.Ticker the session loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer fires once on C unless stopped first.
type Timer interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time { return s.t.C }
func (s *systemTimer) Stop()               { s.t.Stop() }
