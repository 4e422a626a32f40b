package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const signalBuffer = 64

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrAlreadyPassed     = errors.New("test already passed")
	ErrSessionClosed     = errors.New("session closed")
	ErrUnanswered        = errors.New("all questions must be answered before submitting")
	ErrQuestionIndex     = errors.New("question index out of range")
)

// BlockedError is returned by Arm when the learner is block-gated.
type BlockedError struct {
	Count int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("learner is blocked after %d violations", e.Count)
}

// Deps are the collaborators of a Controller. Attempts, Notifier, Wallet
// and Clock are optional.
type Deps struct {
	Backend  Backend
	Attempts AttemptStore
	Notifier Notifier
	Wallet   *WalletResolver
	Clock    Clock
	Log      zerolog.Logger
}

// StartOptions configure Armed -> Running.
type StartOptions struct {
	// CameraAvailable is false when the browser could not open the camera.
	// The vision collectors are then not started.
	CameraAvailable bool
}

// Outcome is published when the session tears down.
type Outcome struct {
	State     model.SessionState
	Result    *model.TestResult
	Incident  *Incident
	TimeSpent int
}

// Controller runs one proctored attempt. A controller is single use: once
// it has torn down a new one is needed for the next attempt.
//
// Ticks and collector signals are consumed by one loop goroutine. Commands
// from the transport and the loop serialize on mu.
type Controller struct {
	id        string
	studentID string
	cfg       config.ProctorConfig
	deps      Deps
	gate      *BlockGate
	log       zerolog.Logger

	mu        sync.Mutex
	session   model.TestSession
	def       *model.TestDefinition
	block     BlockState
	countdown int
	result    *model.TestResult
	frames    *FrameBuffer
	agg       *Aggregator
	reporter  *Reporter
	pipeline  *Pipeline
	ticker    Ticker
	cancel    context.CancelFunc
	bgCtx     context.Context
	hooks     []func(Outcome)
	outcome   Outcome
	closed    bool
	started   bool

	exitAttempted atomic.Bool

	signals   chan model.Signal
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	bg        sync.WaitGroup
}

// NewController returns an idle controller for studentID.
func NewController(studentID string, cfg config.ProctorConfig, deps Deps) *Controller {
	if deps.Notifier == nil {
		deps.Notifier = discardNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	id := uuid.NewString()
	return &Controller{
		id:        id,
		studentID: studentID,
		cfg:       cfg,
		deps:      deps,
		gate:      NewBlockGate(deps.Backend, cfg.ReportTimeout, deps.Clock, deps.Log),
		log:       deps.Log,
		session:   model.TestSession{State: model.SessionIdle, Answers: map[int]string{}},
		signals:   make(chan model.Signal, signalBuffer),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		bgCtx:     context.Background(),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// StudentID returns the learner the session belongs to.
func (c *Controller) StudentID() string { return c.studentID }

// Done is closed once the session has torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Outcome returns the teardown result. It is only meaningful after Done.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// ExitAttempted reports whether a hard violation has fired.
func (c *Controller) ExitAttempted() bool { return c.exitAttempted.Load() }

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() model.TestSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.Answers = make(map[int]string, len(c.session.Answers))
	for k, v := range c.session.Answers {
		s.Answers[k] = v
	}
	s.ExitAttempted = c.exitAttempted.Load()
	return s
}

// Block returns the block status seen by Arm.
func (c *Controller) Block() BlockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Reporter returns the violation reporter of the current attempt, nil
// before Arm.
func (c *Controller) Reporter() *Reporter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reporter
}

// OnClose registers fn to run after teardown. If the session already tore
// down fn runs right away.
func (c *Controller) OnClose(fn func(Outcome)) {
	c.mu.Lock()
	if !c.closed {
		c.hooks = append(c.hooks, fn)
		c.mu.Unlock()
		return
	}
	out := c.outcome
	c.mu.Unlock()
	fn(out)
}

// Arm moves Idle -> Armed for def. It consults the block gate and the
// learner's progress, and computes the remaining time from any previous
// partial attempt.
func (c *Controller) Arm(ctx context.Context, def *model.TestDefinition) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.session.State != model.SessionIdle {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.mu.Unlock()

	block := c.gate.Check(ctx, BlockState{StudentID: c.studentID, CourseID: def.CourseID})
	if block.Blocked {
		return &BlockedError{Count: block.Count}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ReportTimeout)
	progress, err := c.deps.Backend.CourseProgress(callCtx, c.studentID, def.CourseID)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("course_id", def.CourseID).Msg("Course progress unavailable, arming without it")
		progress = nil
	}
	if progress.TestPassed(def.ID) {
		return ErrAlreadyPassed
	}

	spent := progress.TestTimeSpent(def.ID)
	if c.deps.Attempts != nil {
		cached, err := c.deps.Attempts.TimeSpent(ctx, c.studentID, def.ID)
		if err != nil {
			c.log.Warn().Err(err).Msg("Attempt cache read failed")
		}
		spent = max(spent, cached)
	}
	duration := def.DurationMinutes * 60
	remaining := max(duration-spent, 0)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.session.State != model.SessionIdle {
		return ErrInvalidTransition
	}

	c.log = logger.Session(c.deps.Log, c.id, c.studentID, def.ID)
	c.def = def
	c.block = block
	c.session = model.TestSession{
		TestID:           def.ID,
		CourseID:         def.CourseID,
		LectureID:        def.LectureID,
		ChapterNumber:    def.ChapterNumber,
		Duration:         duration,
		Questions:        def.Questions,
		Answers:          map[int]string{},
		RemainingSeconds: remaining,
		State:            model.SessionArmed,
	}
	c.reporter = NewReporter(c.deps.Backend, c.deps.Wallet, SessionInfo{
		StudentID:  c.studentID,
		CourseID:   def.CourseID,
		TestID:     def.ID,
		LectureID:  def.LectureID,
		EducatorID: def.EducatorID,
	}, c.cfg.ReportTimeout, c.log)

	questions := make([]model.QuestionForLearner, len(def.Questions))
	for i, q := range def.Questions {
		questions[i] = q.ForLearner()
	}
	c.notify(model.EventArmed, model.ArmedData{
		SessionID:        c.id,
		TestID:           def.ID,
		Title:            def.Title,
		DurationSeconds:  duration,
		RemainingSeconds: remaining,
		PassingScore:     def.EffectivePassingScore(),
		Questions:        questions,
		Block:            model.BlockStatusData{Blocked: block.Blocked, Count: block.Count, Source: block.Source},
	})
	c.log.Info().Int("remaining_seconds", remaining).Int("time_spent", spent).Msg("Session armed")
	return nil
}

// Start moves Armed -> Running. ctx scopes the attempt: cancelling it tears
// the session down as a manual close.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.session.State != model.SessionArmed {
		return ErrInvalidTransition
	}

	c.exitAttempted.Store(false)
	c.reporter.Reset()
	c.frames = NewFrameBuffer()
	c.agg = NewAggregator(c.cfg, c.frames)
	c.pipeline = NewPipeline(c.cfg, opts.CameraAvailable, c.deps.Clock)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.bgCtx = context.WithoutCancel(ctx)

	c.session.State = model.SessionRunning
	c.countdown = 1

	c.notify(model.EventFullscreenRequest, nil)
	c.notify(model.EventCountdown, model.TickData{RemainingSeconds: c.session.RemainingSeconds, Countdown: c.countdown})
	if !opts.CameraAvailable {
		c.notify(model.EventCameraUnavailable, model.NoticeData{Message: "Camera unavailable, vision monitoring is off"})
		c.log.Warn().Msg("Camera unavailable, vision collectors not started")
	}

	c.pipeline.Start(loopCtx, c.signals)
	c.ticker = c.deps.Clock.NewTicker(c.cfg.TickInterval)
	c.started = true
	go c.loop(loopCtx, c.ticker)

	c.log.Info().Bool("camera", opts.CameraAvailable).Msg("Session running")
	return nil
}

func (c *Controller) loop(ctx context.Context, ticker Ticker) {
	defer close(c.loopDone)
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.abort()
			return
		case <-ticker.C():
			c.tick()
		case sig := <-c.signals:
			c.handleSignal(sig)
		}
	}
}

// abort handles loss of the attempt context, e.g. the socket dropping.
func (c *Controller) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State == model.SessionRunning {
		c.log.Warn().Msg("Session context ended, closing")
		c.closeLocked()
	}
}

func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != model.SessionRunning {
		return
	}
	if c.countdown > 0 {
		c.countdown--
		c.notify(model.EventCountdown, model.TickData{RemainingSeconds: c.session.RemainingSeconds, Countdown: c.countdown})
		return
	}
	if c.session.RemainingSeconds > 0 {
		c.session.RemainingSeconds--
		c.notify(model.EventTick, model.TickData{RemainingSeconds: c.session.RemainingSeconds})
	}
	if c.session.RemainingSeconds == 0 {
		c.log.Info().Msg("Time is up, submitting")
		c.gradeLocked()
	}
}

func (c *Controller) handleSignal(sig model.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != model.SessionRunning || c.agg == nil {
		return
	}

	inc, report := c.agg.Ingest(sig)
	if !sig.Hard() {
		if report {
			c.notify(model.EventWarning, inc.WarningData())
			c.dispatchReport(inc)
		}
		return
	}

	if !c.exitAttempted.CompareAndSwap(false, true) {
		return
	}
	if !report {
		inc = c.agg.Describe(sig)
	}
	c.failLocked(inc)
}

func (c *Controller) failLocked(inc Incident) {
	c.session.State = model.SessionFailed
	c.log.Warn().
		Str("violation_type", string(inc.Type)).
		Str("message", inc.Message).
		Msg("Hard violation, attempt failed")

	c.notify(model.EventViolationFailed, inc.WarningData())
	c.dispatchReport(inc)
	c.terminateLocked(Outcome{
		State:     model.SessionFailed,
		Incident:  &inc,
		TimeSpent: c.timeSpentLocked(),
	})
}

func (c *Controller) dispatchReport(inc Incident) {
	rep := c.reporter
	ctx := c.bgCtx
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		_, _ = rep.Report(ctx, inc)
	}()
}

// Answer records the answer to question idx.
func (c *Controller) Answer(idx int, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.runningLocked(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(c.session.Questions) {
		return ErrQuestionIndex
	}
	c.session.Answers[idx] = answer
	return nil
}

// Navigate moves the current question pointer.
func (c *Controller) Navigate(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.runningLocked(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(c.session.Questions) {
		return ErrQuestionIndex
	}
	c.session.CurrentQuestionIndex = idx
	return nil
}

// Submit grades the attempt. Every question must have an answer. Calling
// Submit again after grading returns the first result.
func (c *Controller) Submit() (*model.TestResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result != nil {
		return c.result, nil
	}
	if err := c.runningLocked(); err != nil {
		return nil, err
	}
	for i := range c.session.Questions {
		if c.session.Answers[i] == "" {
			return nil, ErrUnanswered
		}
	}
	return c.gradeLocked(), nil
}

func (c *Controller) gradeLocked() *model.TestResult {
	c.session.State = model.SessionGrading
	spent := c.timeSpentLocked()
	res := Grade(c.session.Questions, c.session.Answers, c.def.EffectivePassingScore(), spent, c.deps.Clock.Now())
	c.result = &res

	state := model.SessionFailed
	if res.Passed {
		state = model.SessionPassed
	}
	c.session.State = state
	c.log.Info().Int("score", res.Score).Bool("passed", res.Passed).Int("time_spent", spent).Msg("Attempt graded")
	c.notify(model.EventGraded, res)

	if res.Passed {
		c.pushResult(res)
	}
	c.background(func(ctx context.Context) {
		if c.deps.Attempts == nil {
			return
		}
		if err := c.deps.Attempts.ClearTimeSpent(ctx, c.studentID, c.def.ID); err != nil {
			c.log.Warn().Err(err).Msg("Attempt cache clear failed")
		}
	})

	c.terminateLocked(Outcome{State: state, Result: &res, TimeSpent: spent})
	return &res
}

// pushResult sends a passing result to the progress store.
func (c *Controller) pushResult(res model.TestResult) {
	upd := model.ProgressUpdateRequest{
		CourseID:  c.def.CourseID,
		LectureID: c.def.LectureID,
		TestID:    c.def.ID,
		Test: &model.TestProgress{
			Passed:    res.Passed,
			Score:     res.Score,
			Answers:   res.Answers,
			TimeSpent: res.TimeSpent,
		},
	}
	if upd.LectureID == "" {
		upd.LectureID = c.def.ID
	}
	c.background(func(ctx context.Context) {
		if err := c.deps.Backend.UpdateCourseProgress(ctx, c.studentID, upd); err != nil {
			c.log.Error().Err(err).Msg("Test result push failed")
		}
	})
}

// Close ends the attempt without grading. Elapsed time is kept so the
// attempt can resume. Closing a torn-down session is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	switch c.session.State {
	case model.SessionArmed, model.SessionRunning:
		c.closeLocked()
		return nil
	case model.SessionIdle:
		c.terminateLocked(Outcome{State: model.SessionIdle})
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (c *Controller) closeLocked() {
	running := c.session.State == model.SessionRunning
	c.session.State = model.SessionManuallyClosed
	spent := c.timeSpentLocked()
	if running && c.deps.Attempts != nil {
		testID := c.def.ID
		c.background(func(ctx context.Context) {
			if err := c.deps.Attempts.SaveTimeSpent(ctx, c.studentID, testID, spent); err != nil {
				c.log.Warn().Err(err).Msg("Attempt cache save failed")
			}
		})
	}
	c.log.Info().Int("time_spent", spent).Msg("Session closed by learner")
	c.terminateLocked(Outcome{State: model.SessionManuallyClosed, TimeSpent: spent})
}

// ObserveFrame buffers the latest camera still for evidence capture.
func (c *Controller) ObserveFrame(data []byte, contentType string) {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	if frames != nil {
		frames.Store(data, contentType, c.deps.Clock.Now())
	}
}

func (c *Controller) running() *Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != model.SessionRunning {
		return nil
	}
	return c.pipeline
}

// ObserveFace forwards a face-mesh sample to the gaze collector.
func (c *Controller) ObserveFace(s FaceSample) bool {
	if p := c.running(); p != nil {
		return p.ObserveFace(s)
	}
	return false
}

// ObserveObjects forwards object-detector output to the phone collector.
func (c *Controller) ObserveObjects(f ObjectFrame) bool {
	if p := c.running(); p != nil {
		return p.ObserveObjects(f)
	}
	return false
}

func (c *Controller) ObserveFullscreen(ev FullscreenEvent) bool {
	if p := c.running(); p != nil {
		return p.ObserveFullscreen(ev)
	}
	return false
}

func (c *Controller) ObserveVisibility(ev VisibilityEvent) bool {
	if p := c.running(); p != nil {
		return p.ObserveVisibility(ev)
	}
	return false
}

func (c *Controller) ObserveKey(ev KeyEvent) bool {
	if p := c.running(); p != nil {
		return p.ObserveKey(ev)
	}
	return false
}

// ReportSignal queues a warn-tier signal raised by the client with free
// text. It never ends the attempt and is dropped when the queue is full.
func (c *Controller) ReportSignal(reason string) bool {
	if c.running() == nil {
		return false
	}
	sig := model.Signal{Reason: reason, Severity: model.SeverityWarn, At: c.deps.Clock.Now()}
	select {
	case c.signals <- sig:
		return true
	default:
		return false
	}
}

// Wait blocks until the session tore down, the loop exited and every
// background call returned.
func (c *Controller) Wait() {
	<-c.done
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.loopDone
	}
	c.bg.Wait()
}

func (c *Controller) runningLocked() error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.session.State != model.SessionRunning {
		return ErrInvalidTransition
	}
	return nil
}

func (c *Controller) timeSpentLocked() int {
	return max(c.session.Duration-c.session.RemainingSeconds, 0)
}

// background runs fn off the loop with its own timeout.
func (c *Controller) background(fn func(ctx context.Context)) {
	parent := c.bgCtx
	timeout := c.cfg.ReportTimeout
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Controller) notify(t model.EventType, data any) {
	c.deps.Notifier.Notify(model.ProctorEvent{Type: t, Data: data})
}

// terminateLocked is the single teardown routine. It stops the ticker and
// every collector, drops camera frames and answers, releases fullscreen and
// publishes the outcome.
func (c *Controller) terminateLocked(out Outcome) {
	c.closeOnce.Do(func() {
		if c.ticker != nil {
			c.ticker.Stop()
		}
		if c.cancel != nil {
			c.cancel()
		}
		if c.pipeline != nil {
			c.pipeline.Stop()
		}
		if c.frames != nil {
			c.frames.Release()
		}
		c.session.Answers = map[int]string{}
		c.session.State = model.SessionIdle

		c.notify(model.EventFullscreenRelease, nil)
		c.notify(model.EventClosed, model.ClosedData{State: out.State, TimeSpent: out.TimeSpent})

		c.outcome = out
		c.closed = true
		hooks := c.hooks
		c.hooks = nil
		if len(hooks) > 0 {
			c.bg.Add(1)
			go func() {
				defer c.bg.Done()
				for _, h := range hooks {
					h(out)
				}
			}()
		}
		close(c.done)
	})
}
