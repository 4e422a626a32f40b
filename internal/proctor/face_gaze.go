package proctor

import (
	"context"
	"math"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type level int

const (
	levelNone level = iota
	levelWarn
	levelFail
)

func (l level) severity() model.Severity {
	if l == levelFail {
		return model.SeverityFail
	}
	return model.SeverityWarn
}

// FaceGazeMonitor classifies face-mesh samples into face_not_detected and
// looking_away signals. It emits only when a level changes.
type FaceGazeMonitor struct {
	cfg config.ProctorConfig
	box *inbox[FaceSample]

	missingSince time.Time
	awaySince    time.Time
	face         level
	gaze         level
}

// NewFaceGazeMonitor returns a monitor using the face and gaze bounds of cfg.
func NewFaceGazeMonitor(cfg config.ProctorConfig) *FaceGazeMonitor {
	return &FaceGazeMonitor{cfg: cfg, box: newInbox[FaceSample](frameInboxSize, true)}
}

// Name implements Collector.
func (m *FaceGazeMonitor) Name() string { return "face_gaze" }

// Run implements Collector.
func (m *FaceGazeMonitor) Run(ctx context.Context, out chan<- model.Signal) {
	runInbox(ctx, m.box, out, m.classify)
}

func (m *FaceGazeMonitor) classify(s FaceSample) []model.Signal {
	var sigs []model.Signal

	if !s.FaceDetected {
		if m.missingSince.IsZero() {
			m.missingSince = s.At
		}
		// Gaze is meaningless without a face.
		m.awaySince = time.Time{}
		if m.gaze != levelNone {
			m.gaze = levelNone
			sigs = append(sigs, clearOf(model.ViolationLookingAway, s.At))
		}

		gone := s.At.Sub(m.missingSince)
		next := levelNone
		switch {
		case gone > m.cfg.FaceFailAfter:
			next = levelFail
		case gone >= m.cfg.FaceWarnAfter:
			next = levelWarn
		}
		if next > m.face {
			m.face = next
			sigs = append(sigs, raise(model.ViolationFaceNotDetected, next.severity(), s.At))
		}
		return sigs
	}

	m.missingSince = time.Time{}
	if m.face != levelNone {
		m.face = levelNone
		sigs = append(sigs, clearOf(model.ViolationFaceNotDetected, s.At))
	}

	yaw, pitch := math.Abs(s.Yaw), math.Abs(s.Pitch)
	next := levelNone
	switch {
	case yaw > m.cfg.FailYawDegrees || pitch > m.cfg.FailPitchDegrees:
		if m.awaySince.IsZero() {
			m.awaySince = s.At
		}
		next = levelWarn
		if s.At.Sub(m.awaySince) >= m.cfg.LookAwaySustain {
			next = levelFail
		}
	case yaw > m.cfg.WarnYawDegrees || pitch > m.cfg.WarnPitchDegrees:
		m.awaySince = time.Time{}
		next = levelWarn
	default:
		m.awaySince = time.Time{}
	}

	switch {
	case next == levelNone && m.gaze != levelNone:
		m.gaze = levelNone
		sigs = append(sigs, clearOf(model.ViolationLookingAway, s.At))
	case next > m.gaze:
		m.gaze = next
		sigs = append(sigs, raise(model.ViolationLookingAway, next.severity(), s.At))
	case next < m.gaze:
		m.gaze = next
	}
	return sigs
}
