package proctor

import (
	"context"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// escapeReason has no entry in the reason table, so ESC reports as other.
const escapeReason = "Escape key pressed"

// FullscreenMonitor fails the attempt when the document leaves fullscreen.
type FullscreenMonitor struct {
	box      *inbox[FullscreenEvent]
	asserted bool
}

func NewFullscreenMonitor() *FullscreenMonitor {
	return &FullscreenMonitor{box: newInbox[FullscreenEvent](eventInboxSize, false)}
}

func (m *FullscreenMonitor) Name() string { return "fullscreen" }

func (m *FullscreenMonitor) Run(ctx context.Context, out chan<- model.Signal) {
	runInbox(ctx, m.box, out, m.classify)
}

func (m *FullscreenMonitor) classify(ev FullscreenEvent) []model.Signal {
	if !ev.Active {
		m.asserted = true
		return []model.Signal{raise(model.ViolationFullscreenExit, model.SeverityFail, ev.At)}
	}
	if m.asserted {
		m.asserted = false
		return []model.Signal{clearOf(model.ViolationFullscreenExit, ev.At)}
	}
	return nil
}

// VisibilityMonitor watches document visibility. With a zero grace window a
// hidden document fails immediately; otherwise it warns first and fails
// once the window elapses while still hidden.
type VisibilityMonitor struct {
	grace time.Duration
	clock Clock
	box   *inbox[VisibilityEvent]
}

func NewVisibilityMonitor(cfg config.ProctorConfig, clock Clock) *VisibilityMonitor {
	if clock == nil {
		clock = SystemClock()
	}
	return &VisibilityMonitor{
		grace: cfg.TabHiddenGrace,
		clock: clock,
		box:   newInbox[VisibilityEvent](eventInboxSize, false),
	}
}

func (m *VisibilityMonitor) Name() string { return "visibility" }

func (m *VisibilityMonitor) Run(ctx context.Context, out chan<- model.Signal) {
	defer m.box.close()

	var (
		timer    Timer
		fire     <-chan time.Time
		hiddenAt time.Time
		asserted bool
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
			timer, fire = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fire:
			timer, fire = nil, nil
			at := hiddenAt.Add(m.grace)
			if !emit(ctx, out, raise(model.ViolationTabSwitch, model.SeverityFail, at)) {
				return
			}
		case ev := <-m.box.ch:
			if ev.Hidden {
				if asserted {
					continue
				}
				asserted = true
				hiddenAt = ev.At
				if m.grace <= 0 {
					if !emit(ctx, out, raise(model.ViolationTabSwitch, model.SeverityFail, ev.At)) {
						return
					}
					continue
				}
				timer = m.clock.NewTimer(m.grace)
				fire = timer.C()
				if !emit(ctx, out, raise(model.ViolationTabSwitch, model.SeverityWarn, ev.At)) {
					return
				}
				continue
			}
			stop()
			if asserted {
				asserted = false
				if !emit(ctx, out, clearOf(model.ViolationTabSwitch, ev.At)) {
					return
				}
			}
		}
	}
}

// KeyboardEscapeMonitor fires once on the first Escape keydown.
type KeyboardEscapeMonitor struct {
	box   *inbox[KeyEvent]
	fired bool
}

func NewKeyboardEscapeMonitor() *KeyboardEscapeMonitor {
	return &KeyboardEscapeMonitor{box: newInbox[KeyEvent](eventInboxSize, false)}
}

func (m *KeyboardEscapeMonitor) Name() string { return "keyboard_escape" }

func (m *KeyboardEscapeMonitor) Run(ctx context.Context, out chan<- model.Signal) {
	runInbox(ctx, m.box, out, m.classify)
}

func (m *KeyboardEscapeMonitor) classify(ev KeyEvent) []model.Signal {
	if m.fired {
		return nil
	}
	switch strings.TrimSpace(ev.Key) {
	case "Escape", "Esc":
	default:
		return nil
	}
	m.fired = true
	return []model.Signal{{
		Reason:     escapeReason,
		Severity:   model.SeverityFail,
		At:         ev.At,
		NoEvidence: true,
	}}
}
