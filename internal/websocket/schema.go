package websocket

import "github.com/stemsi/exstem-proctor/internal/proctor"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart      Action = "start"
	ActionFrame      Action = "frame"
	ActionFace       Action = "face"
	ActionObjects    Action = "objects"
	ActionFullscreen Action = "fullscreen"
	ActionVisibility Action = "visibility"
	ActionKeydown    Action = "keydown"
	ActionSignal     Action = "signal"
	ActionAnswer     Action = "answer"
	ActionNavigate   Action = "navigate"
	ActionSubmit     Action = "submit"
	ActionClose      Action = "close"
	ActionUnload     Action = "unload"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// StartRequest begins the attempt once the browser has fullscreen.
type StartRequest struct {
	CameraAvailable bool `json:"camera_available"`
}

// FrameRequest carries the latest camera still as a data URL.
type FrameRequest struct {
	Image string `json:"image"`
}

// FaceRequest carries one face-mesh sample.
type FaceRequest struct {
	FaceDetected bool    `json:"face_detected"`
	Yaw          float64 `json:"yaw"`
	Pitch        float64 `json:"pitch"`
}

// ObjectsRequest carries one object-detector result.
type ObjectsRequest struct {
	Detections []proctor.Detection `json:"detections"`
}

// FullscreenRequest mirrors fullscreenchange.
type FullscreenRequest struct {
	Active bool `json:"active"`
}

// VisibilityRequest mirrors visibilitychange.
type VisibilityRequest struct {
	Hidden bool `json:"hidden"`
}

// KeydownRequest mirrors keydown.
type KeydownRequest struct {
	Key string `json:"key"`
}

// SignalRequest is a free-text anomaly from a client-side detector.
type SignalRequest struct {
	Reason string `json:"reason"`
}

// AnswerRequest records an answer for the question at Index.
type AnswerRequest struct {
	Index  int    `json:"index"`
	Answer string `json:"answer"`
}

// NavigateRequest moves the current question pointer.
type NavigateRequest struct {
	Index int `json:"index"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventPong  Event = "pong"
)

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
