package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// BackendError is a non-2xx answer from the remote backend.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.Status, e.Message)
}

// Is lets errors.Is match the minted rejection.
func (e *BackendError) Is(target error) bool {
	return target == proctor.ErrAlreadyMinted && e.Status == http.StatusBadRequest &&
		strings.Contains(e.Message, "minted as an NFT")
}

// TokenSource returns the bearer token used on behalf of studentID.
type TokenSource func(ctx context.Context, studentID string) (string, error)

// BackendClient talks to a remote violation and course-progress backend.
type BackendClient struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

var _ proctor.Backend = (*BackendClient)(nil)

// NewBackendClient creates a client for baseURL. token may be nil.
func NewBackendClient(baseURL string, timeout time.Duration, token TokenSource) *BackendClient {
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

type progressEnvelope struct {
	Success  bool                  `json:"success"`
	Message  string                `json:"message"`
	Progress *model.CourseProgress `json:"progress"`
}

// ReportViolation implements proctor.Backend.
func (c *BackendClient) ReportViolation(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error) {
	var out model.ViolationReportResponse
	if err := c.do(ctx, http.MethodPost, "/violation/report", req.StudentID, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ViolationStatus implements proctor.Backend.
func (c *BackendClient) ViolationStatus(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error) {
	q := url.Values{"studentId": {studentID}, "courseId": {courseID}}
	var out model.ViolationStatus
	if err := c.do(ctx, http.MethodGet, "/violation/count", studentID, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CourseProgress implements proctor.Backend.
func (c *BackendClient) CourseProgress(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	q := url.Values{"courseId": {courseID}}
	var out progressEnvelope
	if err := c.do(ctx, http.MethodGet, "/user/course-progress", studentID, q, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Progress == nil {
		return nil, &BackendError{Status: http.StatusOK, Message: out.Message}
	}
	return out.Progress, nil
}

// UpdateCourseProgress implements proctor.Backend.
func (c *BackendClient) UpdateCourseProgress(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error {
	var out progressEnvelope
	if err := c.do(ctx, http.MethodPost, "/user/update-course-progress", studentID, nil, req, &out); err != nil {
		return err
	}
	if !out.Success {
		return &BackendError{Status: http.StatusOK, Message: out.Message}
	}
	return nil
}

func (c *BackendClient) do(ctx context.Context, method, path, studentID string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx, studentID)
		if err != nil {
			return fmt.Errorf("token for %s: %w", studentID, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// errorMessage extracts the message from a JSON error body, either flat
// ({"message": ...}) or enveloped ({"error": {"message": ...}}), and falls
// back to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		var flat string
		if json.Unmarshal(body.Error, &flat) == nil && flat != "" {
			return flat
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
