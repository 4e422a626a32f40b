package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SessionInfo identifies the attempt a reporter speaks for.
type SessionInfo struct {
	StudentID  string
	CourseID   string
	TestID     string
	LectureID  string
	EducatorID string
}

// ReportResult describes what Report did with an incident.
type ReportResult string

const (
	ReportSent    ReportResult = "sent"
	ReportMinted  ReportResult = "minted"
	ReportSkipped ReportResult = "skipped"
	ReportFailed  ReportResult = "failed"
)

type latchState int

const (
	latchIdle latchState = iota
	latchSending
	latchReported
)

// Reporter sends at most one violation report per session. Every incident
// is kept in the local log whether or not it is sent.
type Reporter struct {
	backend Backend
	wallet  *WalletResolver
	info    SessionInfo
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state latchState
	local []Incident
}

func NewReporter(backend Backend, wallet *WalletResolver, info SessionInfo, timeout time.Duration, log zerolog.Logger) *Reporter {
	r := &Reporter{
		backend: backend,
		wallet:  wallet,
		info:    info,
		timeout: timeout,
		log:     log.With().Str("component", "violation_reporter").Logger(),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Report records inc and, if nothing has been reported yet this session,
// sends it. A failed send releases the latch without retrying. A failing
// incident waits for an in-flight send so that it can go out if that send
// fails.
func (r *Reporter) Report(ctx context.Context, inc Incident) (ReportResult, error) {
	r.mu.Lock()
	r.local = append(r.local, inc)
	for r.state == latchSending && inc.Severity == model.SeverityFail {
		r.cond.Wait()
	}
	if r.state != latchIdle {
		r.mu.Unlock()
		return ReportSkipped, nil
	}
	r.state = latchSending
	r.mu.Unlock()

	req := model.ViolationReportRequest{
		StudentID:     r.info.StudentID,
		CourseID:      r.info.CourseID,
		TestID:        r.info.TestID,
		ViolationType: string(inc.Type),
		Message:       inc.Message,
		AllViolations: typeStrings(inc.Active),
		ImageData:     inc.Evidence.ImageData,
		WalletAddress: r.wallet.Resolve(ctx),
		EducatorID:    r.info.EducatorID,
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	resp, err := r.backend.ReportViolation(sendCtx, req)
	cancel()

	if isMintedRejection(err, resp) {
		r.latch(latchReported)
		r.log.Info().Str("violation_type", req.ViolationType).Msg("Course already minted, violation not recorded")
		return ReportMinted, nil
	}
	if err == nil && (resp == nil || !resp.Success) {
		msg := "empty response"
		if resp != nil {
			msg = resp.Message
		}
		err = errors.New(msg)
	}
	if err != nil {
		r.latch(latchIdle)
		r.log.Error().Err(err).Str("violation_type", req.ViolationType).Msg("Violation report failed")
		return ReportFailed, fmt.Errorf("report violation: %w", err)
	}

	r.latch(latchReported)
	r.log.Info().
		Str("violation_type", req.ViolationType).
		Int("count", resp.Count).
		Bool("is_blocked", bool(resp.IsBlocked)).
		Msg("Violation reported")

	r.embed(ctx, inc)
	return ReportSent, nil
}

// embed attaches the violation to the course-progress record. Failure is
// logged only.
func (r *Reporter) embed(ctx context.Context, inc Incident) {
	lecture := r.info.LectureID
	if lecture == "" {
		lecture = r.info.TestID
	}
	upd := model.ProgressUpdateRequest{
		CourseID:  r.info.CourseID,
		LectureID: lecture,
		Violation: &model.ViolationEmbed{
			Type:      inc.Type,
			Message:   inc.Message,
			Timestamp: inc.Evidence.Timestamp,
			ImageData: inc.Evidence.ImageData,
		},
	}
	embedCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.backend.UpdateCourseProgress(embedCtx, r.info.StudentID, upd); err != nil {
		r.log.Warn().Err(err).Msg("Violation progress embed failed")
	}
}

func (r *Reporter) latch(s latchState) {
	r.mu.Lock()
	r.state = s
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Reset clears the latch and the local log for a new attempt.
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = latchIdle
	r.local = nil
	r.cond.Broadcast()
}

// Reported reports whether the latch is set.
func (r *Reporter) Reported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == latchReported
}

// Local returns a copy of every incident seen this session.
func (r *Reporter) Local() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Incident, len(r.local))
	copy(out, r.local)
	return out
}

func typeStrings(ts []model.ViolationType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
