package config

import (
	"fmt"
	"time"
)

// ProctorConfig holds the geometric and timing thresholds used by the
// signal collectors and the violation aggregator.
//
// Every fail bound must lie farther from centre than its warn bound.
type ProctorConfig struct {
	WarnYawDegrees   float64
	FailYawDegrees   float64
	WarnPitchDegrees float64
	FailPitchDegrees float64
	// LookAwaySustain is how long the head must stay beyond a fail bound
	// before looking_away becomes a hard fail.
	LookAwaySustain time.Duration

	FaceWarnAfter time.Duration
	FaceFailAfter time.Duration

	PhoneMinConfidence float64

	// TabHiddenGrace is how long the document may stay hidden before
	// tab_switch fails the attempt. Zero fails immediately.
	TabHiddenGrace time.Duration

	DedupBucket        time.Duration
	ReportCooldown     time.Duration
	ReportHistoryCap   int
	ReportHistoryEvict int

	TickInterval time.Duration
	// ReportTimeout bounds every fire-and-forget backend call.
	ReportTimeout time.Duration
}

// DefaultProctorConfig returns the production defaults.
func DefaultProctorConfig() ProctorConfig {
	return ProctorConfig{
		WarnYawDegrees:     25,
		FailYawDegrees:     40,
		WarnPitchDegrees:   15,
		FailPitchDegrees:   25,
		LookAwaySustain:    2 * time.Second,
		FaceWarnAfter:      1 * time.Second,
		FaceFailAfter:      3 * time.Second,
		PhoneMinConfidence: 0.4,
		TabHiddenGrace:     0,
		DedupBucket:        60 * time.Second,
		ReportCooldown:     30 * time.Second,
		ReportHistoryCap:   50,
		ReportHistoryEvict: 10,
		TickInterval:       time.Second,
		ReportTimeout:      10 * time.Second,
	}
}

func loadProctorConfig() ProctorConfig {
	d := DefaultProctorConfig()
	return ProctorConfig{
		WarnYawDegrees:     getEnvFloat("PROCTOR_WARN_YAW_DEG", d.WarnYawDegrees),
		FailYawDegrees:     getEnvFloat("PROCTOR_FAIL_YAW_DEG", d.FailYawDegrees),
		WarnPitchDegrees:   getEnvFloat("PROCTOR_WARN_PITCH_DEG", d.WarnPitchDegrees),
		FailPitchDegrees:   getEnvFloat("PROCTOR_FAIL_PITCH_DEG", d.FailPitchDegrees),
		LookAwaySustain:    getEnvDuration("PROCTOR_LOOK_AWAY_SUSTAIN", d.LookAwaySustain),
		FaceWarnAfter:      getEnvDuration("PROCTOR_FACE_WARN_AFTER", d.FaceWarnAfter),
		FaceFailAfter:      getEnvDuration("PROCTOR_FACE_FAIL_AFTER", d.FaceFailAfter),
		PhoneMinConfidence: getEnvFloat("PROCTOR_PHONE_MIN_CONFIDENCE", d.PhoneMinConfidence),
		TabHiddenGrace:     getEnvDuration("PROCTOR_TAB_HIDDEN_GRACE", d.TabHiddenGrace),
		DedupBucket:        getEnvDuration("PROCTOR_DEDUP_BUCKET", d.DedupBucket),
		ReportCooldown:     getEnvDuration("PROCTOR_REPORT_COOLDOWN", d.ReportCooldown),
		ReportHistoryCap:   getEnvInt("PROCTOR_REPORT_HISTORY_CAP", d.ReportHistoryCap),
		ReportHistoryEvict: getEnvInt("PROCTOR_REPORT_HISTORY_EVICT", d.ReportHistoryEvict),
		TickInterval:       d.TickInterval,
		ReportTimeout:      getEnvDuration("PROCTOR_REPORT_TIMEOUT", d.ReportTimeout),
	}
}

// Validate rejects threshold sets that break the warn/fail asymmetry or
// would make the aggregator history unusable.
func (c ProctorConfig) Validate() error {
	if c.FailYawDegrees <= c.WarnYawDegrees {
		return fmt.Errorf("fail yaw %.1f must exceed warn yaw %.1f", c.FailYawDegrees, c.WarnYawDegrees)
	}
	if c.FailPitchDegrees <= c.WarnPitchDegrees {
		return fmt.Errorf("fail pitch %.1f must exceed warn pitch %.1f", c.FailPitchDegrees, c.WarnPitchDegrees)
	}
	if c.FaceFailAfter <= c.FaceWarnAfter {
		return fmt.Errorf("face fail window %s must exceed warn window %s", c.FaceFailAfter, c.FaceWarnAfter)
	}
	if c.PhoneMinConfidence < 0 || c.PhoneMinConfidence > 1 {
		return fmt.Errorf("phone confidence %.2f out of range [0,1]", c.PhoneMinConfidence)
	}
	if c.DedupBucket <= 0 || c.TickInterval <= 0 {
		return fmt.Errorf("dedup bucket and tick interval must be positive")
	}
	if c.ReportHistoryEvict <= 0 || c.ReportHistoryEvict > c.ReportHistoryCap {
		return fmt.Errorf("history evict %d must be within (0, %d]", c.ReportHistoryEvict, c.ReportHistoryCap)
	}
	return nil
}
