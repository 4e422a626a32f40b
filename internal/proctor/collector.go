package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	frameInboxSize = 8
	eventInboxSize = 32
)

// Collector is an independently scheduled integrity monitor. Run blocks
// until ctx is cancelled, writing signals to out.
type Collector interface {
	Name() string
	Run(ctx context.Context, out chan<- model.Signal)
}

// FaceSample is the face-mesh output for one camera frame. Yaw and Pitch
// are head angles in degrees, zero when facing the screen.
type FaceSample struct {
	At           time.Time
	FaceDetected bool
	Yaw          float64
	Pitch        float64
}

// Detection is one object reported by the object detector.
type Detection struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
}

// ObjectFrame is the object-detector output for one camera frame.
type ObjectFrame struct {
	At         time.Time
	Detections []Detection
}

// FullscreenEvent mirrors the browser fullscreenchange event.
type FullscreenEvent struct {
	At     time.Time
	Active bool
}

// VisibilityEvent mirrors the browser visibilitychange event.
type VisibilityEvent struct {
	At     time.Time
	Hidden bool
}

// KeyEvent mirrors a browser keydown event.
type KeyEvent struct {
	At  time.Time
	Key string
}

// inbox feeds a collector. Lossy inboxes drop input when full, which suits
// per-frame detector output. Lossless inboxes block the producer until the
// collector reads or stops.
type inbox[T any] struct {
	ch    chan T
	done  chan struct{}
	once  sync.Once
	lossy bool
}

func newInbox[T any](size int, lossy bool) *inbox[T] {
	return &inbox[T]{
		ch:    make(chan T, size),
		done:  make(chan struct{}),
		lossy: lossy,
	}
}

func (b *inbox[T]) push(v T) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	if b.lossy {
		select {
		case b.ch <- v:
			return true
		default:
			return false
		}
	}
	select {
	case b.ch <- v:
		return true
	case <-b.done:
		return false
	}
}

func (b *inbox[T]) close() {
	b.once.Do(func() { close(b.done) })
}

func emit(ctx context.Context, out chan<- model.Signal, sig model.Signal) bool {
	select {
	case out <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}

// runInbox drives a stateless-timer collector: every input is classified
// and the resulting signals are forwarded in order.
func runInbox[T any](ctx context.Context, box *inbox[T], out chan<- model.Signal, classify func(T) []model.Signal) {
	defer box.close()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-box.ch:
			for _, sig := range classify(v) {
				if !emit(ctx, out, sig) {
					return
				}
			}
		}
	}
}

func raise(t model.ViolationType, sev model.Severity, at time.Time) model.Signal {
	return model.Signal{Reason: t.Phrase(), Severity: sev, At: at}
}

func clearOf(t model.ViolationType, at time.Time) model.Signal {
	return model.Signal{Type: t, Clear: true, At: at}
}

// Pipeline owns the collectors of one session. Vision collectors exist only
// when the camera is available.
type Pipeline struct {
	face       *FaceGazeMonitor
	phone      *PhoneDetectionMonitor
	fullscreen *FullscreenMonitor
	visibility *VisibilityMonitor
	keyboard   *KeyboardEscapeMonitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPipeline builds the collectors for one session. A nil clock means the
// wall clock.
func NewPipeline(cfg config.ProctorConfig, vision bool, clock Clock) *Pipeline {
	p := &Pipeline{
		fullscreen: NewFullscreenMonitor(),
		visibility: NewVisibilityMonitor(cfg, clock),
		keyboard:   NewKeyboardEscapeMonitor(),
	}
	if vision {
		p.face = NewFaceGazeMonitor(cfg)
		p.phone = NewPhoneDetectionMonitor(cfg)
	}
	return p
}

// Collectors returns the monitors that Start runs.
func (p *Pipeline) Collectors() []Collector {
	cs := []Collector{p.fullscreen, p.visibility, p.keyboard}
	if p.face != nil {
		cs = append(cs, p.face)
	}
	if p.phone != nil {
		cs = append(cs, p.phone)
	}
	return cs
}

// Start launches every collector in its own goroutine.
func (p *Pipeline) Start(parent context.Context, out chan<- model.Signal) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	for _, c := range p.Collectors() {
		p.wg.Add(1)
		go func(c Collector) {
			defer p.wg.Done()
			c.Run(ctx, out)
		}(c)
	}
}

// Stop cancels every collector and waits for all of them to return.
// It is safe to call more than once and before Start.
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.fullscreen.box.close()
		p.visibility.box.close()
		p.keyboard.box.close()
		if p.face != nil {
			p.face.box.close()
		}
		if p.phone != nil {
			p.phone.box.close()
		}
	})
}

// ObserveFace forwards a face-mesh sample. Returns false if dropped.
func (p *Pipeline) ObserveFace(s FaceSample) bool {
	if p.face == nil {
		return false
	}
	return p.face.box.push(s)
}

// ObserveObjects forwards object-detector output. Returns false if dropped.
func (p *Pipeline) ObserveObjects(f ObjectFrame) bool {
	if p.phone == nil {
		return false
	}
	return p.phone.box.push(f)
}

// ObserveFullscreen forwards a fullscreen change.
func (p *Pipeline) ObserveFullscreen(ev FullscreenEvent) bool {
	return p.fullscreen.box.push(ev)
}

// ObserveVisibility forwards a visibility change.
func (p *Pipeline) ObserveVisibility(ev VisibilityEvent) bool {
	return p.visibility.box.push(ev)
}

// ObserveKey forwards a keydown.
func (p *Pipeline) ObserveKey(ev KeyEvent) bool {
	return p.keyboard.box.push(ev)
}
