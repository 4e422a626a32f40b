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

// ViolationRecorder is the violation API's view of the violation service.
type ViolationRecorder interface {
	Report(ctx context.Context, req model.ViolationReportRequest) (*model.ViolationReportResponse, error)
	Status(ctx context.Context, studentID, courseID string) (*model.ViolationStatus, error)
	Recent(ctx context.Context, courseID string) ([]model.ViolationRecord, error)
}

// contractError is the flat error body of the violation and progress API.
type contractError struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Code    response.ErrCode  `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func failContract(c *gin.Context, status int, code response.ErrCode, message string) {
	if message == "" {
		message = response.GetMessage(code)
	}
	c.JSON(status, contractError{Success: false, Message: message, Code: code})
}

// ViolationHandler serves the violation backend contract.
type ViolationHandler struct {
	violations ViolationRecorder
	log        zerolog.Logger
}

// NewViolationHandler creates a new ViolationHandler.
func NewViolationHandler(violations ViolationRecorder, log zerolog.Logger) *ViolationHandler {
	return &ViolationHandler{
		violations: violations,
		log:        log.With().Str("component", "violation_handler").Logger(),
	}
}

// Report godoc
// POST /violation/report
func (h *ViolationHandler) Report(c *gin.Context) {
	var req model.ViolationReportRequest
	if fields := validator.Bind(c, &req); fields != nil {
		c.JSON(http.StatusBadRequest, contractError{
			Message: response.GetMessage(response.ErrValidation),
			Code:    response.ErrValidation,
			Fields:  fields,
		})
		return
	}

	claims := middleware.GetClaims(c)
	if claims != nil && claims.TokenType == service.TokenTypeLearner && claims.UserID != req.StudentID {
		failContract(c, http.StatusForbidden, response.ErrForbidden, "")
		return
	}

	resp, err := h.violations.Report(c.Request.Context(), req)
	switch {
	case errors.Is(err, service.ErrCertificateMinted):
		failContract(c, http.StatusBadRequest, response.ErrCertificateMinted, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Str("student_id", req.StudentID).Msg("Report violation failed")
		failContract(c, http.StatusInternalServerError, response.ErrInternal, "")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Count godoc
// GET /violation/count?studentId=&courseId=
func (h *ViolationHandler) Count(c *gin.Context) {
	status, err := h.violations.Status(c.Request.Context(), c.Query("studentId"), c.Query("courseId"))
	switch {
	case errors.Is(err, service.ErrMissingLearner):
		failContract(c, http.StatusBadRequest, response.ErrValidation, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Msg("Violation count failed")
		failContract(c, http.StatusInternalServerError, response.ErrInternal, "")
		return
	}

	c.JSON(http.StatusOK, status)
}

// ListByCourse godoc
// GET /api/v1/educator/courses/:course_id/violations
func (h *ViolationHandler) ListByCourse(c *gin.Context) {
	records, err := h.violations.Recent(c.Request.Context(), c.Param("course_id"))
	if err != nil {
		h.log.Error().Err(err).Msg("List violations failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.SuccessWithWindow(c, http.StatusOK, records, &response.Window{
		Limit:    service.RecentViolationsLimit,
		Returned: len(records),
	})
}
