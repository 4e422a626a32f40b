package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams a course's violation events to educators.
type MonitorHandler struct {
	rdb        *redis.Client
	violations ViolationRecorder
	registry   *proctor.Registry
	log        zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, violations ViolationRecorder, registry *proctor.Registry, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:        rdb,
		violations: violations,
		registry:   registry,
		log:        log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorCourseSSE godoc
// GET /api/v1/educator/courses/:course_id/monitor
func (h *MonitorHandler) MonitorCourseSSE(c *gin.Context) {
	courseID := c.Param("course_id")
	if courseID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	// 1. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// 2. Subscribe before the snapshot so nothing falls in between
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.CourseViolationChannel(courseID))
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSnapshot(c, reqCtx, courseID)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("course_id", courseID).Msg("Educator attached to violation monitor")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("course_id", courseID).Msg("Educator detached from violation monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes the recent violations and the live session count.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, ctx context.Context, courseID string) {
	queryCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	records, err := h.violations.Recent(queryCtx, courseID)
	if err != nil {
		h.log.Warn().Err(err).Str("course_id", courseID).Msg("Snapshot query failed")
	}

	c.SSEvent("message", map[string]interface{}{
		"type":            "snapshot",
		"course_id":       courseID,
		"active_sessions": h.registry.Len(),
		"violations":      records,
	})
	c.Writer.Flush()
}
