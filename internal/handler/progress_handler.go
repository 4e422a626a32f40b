package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ProgressTracker is the progress API's view of the progress service.
type ProgressTracker interface {
	Get(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error)
	Enqueue(ctx context.Context, studentID string, req model.ProgressUpdateRequest) error
}

type progressBody struct {
	Success  bool                  `json:"success"`
	Message  string                `json:"message,omitempty"`
	Progress *model.CourseProgress `json:"progress,omitempty"`
}

// ProgressHandler serves the course-progress backend contract for learners.
type ProgressHandler struct {
	progress ProgressTracker
	log      zerolog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progress ProgressTracker, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		progress: progress,
		log:      log.With().Str("component", "progress_handler").Logger(),
	}
}

// Update godoc
// POST /user/update-course-progress
func (h *ProgressHandler) Update(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		failContract(c, http.StatusUnauthorized, response.ErrTokenRequired, "")
		return
	}

	var req model.ProgressUpdateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		c.JSON(http.StatusBadRequest, contractError{
			Message: response.GetMessage(response.ErrValidation),
			Code:    response.ErrValidation,
			Fields:  fields,
		})
		return
	}

	err := h.progress.Enqueue(c.Request.Context(), claims.UserID, req)
	switch {
	case errors.Is(err, service.ErrCertificateMinted):
		failContract(c, http.StatusBadRequest, response.ErrCertificateMinted, err.Error())
		return
	case errors.Is(err, service.ErrInvalidProgressUpdate):
		failContract(c, http.StatusBadRequest, response.ErrInvalidPayload, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Str("student_id", claims.UserID).Msg("Progress update failed")
		failContract(c, http.StatusInternalServerError, response.ErrInternal, "")
		return
	}

	c.JSON(http.StatusAccepted, progressBody{Success: true, Message: "Progress update accepted"})
}

// Get godoc
// GET /user/course-progress?courseId=
func (h *ProgressHandler) Get(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		failContract(c, http.StatusUnauthorized, response.ErrTokenRequired, "")
		return
	}

	p, err := h.progress.Get(c.Request.Context(), claims.UserID, c.Query("courseId"))
	switch {
	case errors.Is(err, service.ErrMissingLearner):
		failContract(c, http.StatusBadRequest, response.ErrValidation, "courseId is required")
		return
	case err != nil:
		h.log.Error().Err(err).Str("student_id", claims.UserID).Msg("Load progress failed")
		failContract(c, http.StatusInternalServerError, response.ErrInternal, "")
		return
	}

	c.JSON(http.StatusOK, progressBody{Success: true, Progress: p})
}
