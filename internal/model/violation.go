package model

import (
	"strings"
	"time"
)

// ViolationType enumerates the integrity breaches the proctor can detect.
type ViolationType string

const (
	ViolationPhoneDetected   ViolationType = "phone_detected"
	ViolationFullscreenExit  ViolationType = "fullscreen_exit"
	ViolationTabSwitch       ViolationType = "tab_switch"
	ViolationFaceNotDetected ViolationType = "face_not_detected"
	ViolationLookingAway     ViolationType = "looking_away"
	ViolationOther           ViolationType = "other"
)

// AllViolationTypes returns every member of the enum, highest priority first.
func AllViolationTypes() []ViolationType {
	return []ViolationType{
		ViolationPhoneDetected,
		ViolationFullscreenExit,
		ViolationTabSwitch,
		ViolationFaceNotDetected,
		ViolationLookingAway,
		ViolationOther,
	}
}

// ParseViolationType maps a wire value to the enum. Unknown values become other.
func ParseViolationType(s string) ViolationType {
	t := ViolationType(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t
	}
	return ViolationOther
}

// Valid reports whether t is a member of the enum.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationPhoneDetected, ViolationFullscreenExit, ViolationTabSwitch,
		ViolationFaceNotDetected, ViolationLookingAway, ViolationOther:
		return true
	}
	return false
}

// Priority is used for display and report ordering only. It never suppresses
// a lower-ranked type.
func (t ViolationType) Priority() int {
	switch t {
	case ViolationPhoneDetected:
		return 5
	case ViolationFullscreenExit:
		return 4
	case ViolationTabSwitch:
		return 3
	case ViolationFaceNotDetected:
		return 2
	case ViolationLookingAway:
		return 1
	default:
		return 0
	}
}

// Phrase returns the human-readable text shown to the learner and stored
// in the violation message.
func (t ViolationType) Phrase() string {
	switch t {
	case ViolationPhoneDetected:
		return "Phone detected"
	case ViolationFullscreenExit:
		return "Exited fullscreen mode"
	case ViolationTabSwitch:
		return "Switched tabs or minimized the window"
	case ViolationFaceNotDetected:
		return "Face not detected"
	case ViolationLookingAway:
		return "Looking away from the screen"
	default:
		return "Suspicious activity detected"
	}
}

// Severity separates anomalies that are only reported from those that end
// the attempt.
type Severity string

const (
	SeverityWarn Severity = "warn"
	SeverityFail Severity = "fail"
)

// Signal is the raw output of a collector. It is never persisted.
type Signal struct {
	// Reason is the free-text description emitted by the collector. The
	// aggregator maps it to a canonical type.
	Reason   string
	Severity Severity
	At       time.Time
	// Clear withdraws Type from the active set instead of asserting it.
	Clear bool
	// Type is set on clear signals, where there is no reason to classify.
	Type ViolationType
	// NoEvidence skips the camera still capture for this signal.
	NoEvidence bool
}

// Hard reports whether the signal ends the attempt.
func (s Signal) Hard() bool {
	return !s.Clear && s.Severity == SeverityFail
}

// ViolationReportRequest is the body of POST /violation/report.
type ViolationReportRequest struct {
	StudentID     string   `json:"studentId" binding:"required,max=128"`
	CourseID      string   `json:"courseId" binding:"required,max=128"`
	TestID        string   `json:"testId" binding:"required,max=128"`
	ViolationType string   `json:"violationType" binding:"required,max=64"`
	Message       string   `json:"message" binding:"max=2000"`
	AllViolations []string `json:"allViolations" binding:"max=16"`
	ImageData     string   `json:"imageData"`
	WalletAddress string   `json:"walletAddress" binding:"max=128"`
	EducatorID    string   `json:"educatorId" binding:"max=128"`
}

// ViolationReportResponse is returned by POST /violation/report.
type ViolationReportResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	Count     int      `json:"count,omitempty"`
	IsBlocked FlexBool `json:"isBlocked,omitempty"`
}

// ViolationStatus is returned by GET /violation/count.
type ViolationStatus struct {
	Success   bool     `json:"success"`
	Count     int      `json:"count"`
	IsBlocked FlexBool `json:"isBlocked"`
}

// ViolationRecord is a persisted violation incident.
type ViolationRecord struct {
	ID             int64           `json:"id"`
	StudentID      string          `json:"student_id"`
	CourseID       string          `json:"course_id"`
	TestID         string          `json:"test_id"`
	ViolationType  ViolationType   `json:"violation_type"`
	Message        string          `json:"message"`
	AllViolations  []ViolationType `json:"all_violations"`
	EvidenceImage  string          `json:"evidence_image,omitempty"`
	EvidenceObject string          `json:"evidence_object,omitempty"`
	WalletAddress  string          `json:"wallet_address"`
	EducatorID     string          `json:"educator_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ViolationEvent is fanned out to the educator monitor and the message broker.
type ViolationEvent struct {
	Type          string        `json:"type"`
	StudentID     string        `json:"student_id"`
	CourseID      string        `json:"course_id"`
	TestID        string        `json:"test_id"`
	ViolationType ViolationType `json:"violation_type"`
	Message       string        `json:"message"`
	Count         int           `json:"count"`
	IsBlocked     bool          `json:"is_blocked"`
	RecordedAt    time.Time     `json:"recorded_at"`
}
