package proctor

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"
)

// MaxFrameBytes caps a single camera still accepted from the browser.
const MaxFrameBytes = 2 << 20

var (
	ErrInvalidDataURL = errors.New("invalid data URL")
	ErrFrameTooLarge  = errors.New("frame exceeds size limit")
)

// Evidence is a camera still attached to a violation report.
type Evidence struct {
	// ImageData is a data URL, empty when no frame was available.
	ImageData string `json:"image_data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FrameBuffer holds the most recent camera frame of a session. It is the
// only camera resource the server keeps and is dropped on teardown.
type FrameBuffer struct {
	mu          sync.Mutex
	data        []byte
	contentType string
	at          time.Time
	released    bool
}

// NewFrameBuffer returns an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Store replaces the buffered frame. Stores after Release are ignored.
func (b *FrameBuffer) Store(data []byte, contentType string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.data = data
	b.contentType = contentType
	b.at = at
}

// Capture encodes the latest frame as evidence stamped with now.
func (b *FrameBuffer) Capture(now time.Time) Evidence {
	ev := Evidence{Timestamp: now.UTC().Format(time.RFC3339)}
	if b == nil {
		return ev
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return ev
	}
	ev.ImageData = EncodeDataURL(b.data, b.contentType)
	return ev
}

// Release drops the buffered frame and refuses further stores.
func (b *FrameBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.data = nil
}

// EncodeDataURL renders data as a base64 data URL.
func EncodeDataURL(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL such as the ones produced by
// canvas.toDataURL. A bare base64 payload is accepted as image/jpeg.
func DecodeDataURL(s string) ([]byte, string, error) {
	contentType := "image/jpeg"
	payload := s
	if strings.HasPrefix(s, "data:") {
		meta, rest, ok := strings.Cut(s[len("data:"):], ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, "", ErrInvalidDataURL
		}
		if ct := strings.TrimSuffix(meta, ";base64"); ct != "" {
			contentType = ct
		}
		payload = rest
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxFrameBytes {
		return nil, "", ErrFrameTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", ErrInvalidDataURL
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", ErrInvalidDataURL
	}
	return data, contentType, nil
}
