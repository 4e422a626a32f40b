package proctor

import (
	"context"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var phoneClasses = map[string]struct{}{
	"cell phone":   {},
	"mobile phone": {},
	"phone":        {},
	"smartphone":   {},
}

// PhoneDetectionMonitor fails the attempt as soon as the object detector
// reports a phone-class object above the confidence floor. There is no
// grace window.
type PhoneDetectionMonitor struct {
	minScore float64
	box      *inbox[ObjectFrame]
	asserted bool
}

// NewPhoneDetectionMonitor returns a monitor using cfg.PhoneMinConfidence.
func NewPhoneDetectionMonitor(cfg config.ProctorConfig) *PhoneDetectionMonitor {
	return &PhoneDetectionMonitor{
		minScore: cfg.PhoneMinConfidence,
		box:      newInbox[ObjectFrame](frameInboxSize, true),
	}
}

// Name implements Collector.
func (m *PhoneDetectionMonitor) Name() string { return "phone_detection" }

// Run implements Collector.
func (m *PhoneDetectionMonitor) Run(ctx context.Context, out chan<- model.Signal) {
	runInbox(ctx, m.box, out, m.classify)
}

func (m *PhoneDetectionMonitor) classify(f ObjectFrame) []model.Signal {
	if m.phoneIn(f.Detections) {
		if m.asserted {
			return nil
		}
		m.asserted = true
		return []model.Signal{raise(model.ViolationPhoneDetected, model.SeverityFail, f.At)}
	}
	if m.asserted {
		m.asserted = false
		return []model.Signal{clearOf(model.ViolationPhoneDetected, f.At)}
	}
	return nil
}

func (m *PhoneDetectionMonitor) phoneIn(ds []Detection) bool {
	for _, d := range ds {
		if _, ok := phoneClasses[strings.ToLower(strings.TrimSpace(d.Class))]; ok && d.Score > m.minScore {
			return true
		}
	}
	return false
}
