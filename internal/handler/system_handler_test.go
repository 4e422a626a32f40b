package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSessions int

func (n fixedSessions) Len() int { return int(n) }

func TestSystemHandler_Status(t *testing.T) {
	h := NewSystemHandler(nil, fixedSessions(3), zerolog.Nop())
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data systemStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data.LiveSessions)
	assert.False(t, body.Data.RedisOK)
	assert.Positive(t, body.Data.Goroutines)
	assert.NotEmpty(t, body.Data.GoVersion)
}
