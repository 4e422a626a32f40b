package model

// EventType names a server → browser proctor event.
type EventType string

const (
	EventArmed             EventType = "armed"
	EventFullscreenRequest EventType = "fullscreen_request"
	EventCountdown         EventType = "countdown"
	EventTick              EventType = "tick"
	EventWarning           EventType = "warning"
	EventViolationFailed   EventType = "violation_failed"
	EventGraded            EventType = "graded"
	EventClosed            EventType = "closed"
	EventFullscreenRelease EventType = "fullscreen_release"
	EventCameraUnavailable EventType = "camera_unavailable"
	EventBlockStatus       EventType = "block_status"
)

// ProctorEvent is pushed from a session to the browser.
type ProctorEvent struct {
	Type EventType `json:"event"`
	Data any       `json:"data,omitempty"`
}

// WarningData accompanies EventWarning and EventViolationFailed.
type WarningData struct {
	ViolationType ViolationType   `json:"violation_type"`
	Message       string          `json:"message"`
	Active        []ViolationType `json:"active"`
	Timestamp     string          `json:"timestamp"`
}

// BlockStatusData accompanies EventBlockStatus and blocked-start errors.
type BlockStatusData struct {
	Blocked bool   `json:"blocked"`
	Count   int    `json:"count"`
	Source  string `json:"source"`
}

// ArmedData accompanies EventArmed.
type ArmedData struct {
	SessionID        string               `json:"session_id"`
	TestID           string               `json:"test_id"`
	Title            string               `json:"title"`
	DurationSeconds  int                  `json:"duration_seconds"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	PassingScore     int                  `json:"passing_score"`
	Questions        []QuestionForLearner `json:"questions"`
	Block            BlockStatusData      `json:"block"`
}

// TickData accompanies EventTick and EventCountdown.
type TickData struct {
	RemainingSeconds int `json:"remaining_seconds"`
	Countdown        int `json:"countdown,omitempty"`
}

// ClosedData accompanies EventClosed.
type ClosedData struct {
	State     SessionState `json:"state"`
	TimeSpent int          `json:"time_spent"`
}

// NoticeData carries a plain message, e.g. for EventCameraUnavailable.
type NoticeData struct {
	Message string `json:"message"`
}
