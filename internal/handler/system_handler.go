package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// SessionCounter reports how many proctored sessions this instance runs.
type SessionCounter interface {
	Len() int
}

// SystemHandler serves health and runtime status.
type SystemHandler struct {
	rdb       *redis.Client
	sessions  SessionCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, sessions SessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemStatus struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Proctoring
	LiveSessions int   `json:"live_sessions"`
	RedisOK      bool  `json:"redis_ok"`
	QueueDepth   int64 `json:"queue_progress"`
	DeadLetters  int64 `json:"queue_progress_dead"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Status godoc
// GET /api/v1/educator/system/status
func (h *SystemHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response.Success(c, http.StatusOK, h.collect(ctx))
}

func (h *SystemHandler) collect(ctx context.Context) systemStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := systemStatus{
		Timestamp:  time.Now().Unix(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		HeapSys:    mem.HeapSys,
		NumGC:      mem.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}
	if h.sessions != nil {
		s.LiveSessions = h.sessions.Len()
	}

	if h.rdb == nil {
		return s
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis ping failed")
		return s
	}
	s.RedisOK = true

	pipe := h.rdb.Pipeline()
	depth := pipe.LLen(ctx, config.WorkerKey.PersistProgressQueue)
	dead := pipe.LLen(ctx, config.WorkerKey.ProgressDeadLetterQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Queue depth read failed")
		return s
	}
	s.QueueDepth = depth.Val()
	s.DeadLetters = dead.Val()
	return s
}
