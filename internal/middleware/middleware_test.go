package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: time.Hour})
}

func token(t *testing.T, auth *service.AuthService, tt service.TokenType, user string) string {
	t.Helper()
	tok, err := auth.IssueToken(tt, user, "", 0)
	require.NoError(t, err)
	return tok
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireLearnerJWT(t *testing.T) {
	auth := newAuth()
	r := gin.New()
	r.GET("/x", RequireLearnerJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).UserID)
	})

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode int
		wantBody string
	}{
		{name: "learner", header: "Bearer " + token(t, auth, service.TokenTypeLearner, "learner-1"), wantCode: http.StatusOK, wantBody: "learner-1"},
		{name: "educator forbidden", header: "Bearer " + token(t, auth, service.TokenTypeEducator, "edu-1"), wantCode: http.StatusForbidden, wantBody: "LEARNER_ACCESS_ONLY"},
		{name: "missing", wantCode: http.StatusUnauthorized, wantBody: "TOKEN_REQUIRED"},
		{name: "garbage", header: "Bearer nope", wantCode: http.StatusUnauthorized, wantBody: "TOKEN_INVALID"},
		{name: "query ignored", query: "?token=" + token(t, auth, service.TokenTypeLearner, "learner-1"), wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRequireEducatorJWT_QueryFallback(t *testing.T) {
	auth := newAuth()
	r := gin.New()
	r.GET("/monitor", RequireEducatorJWT(auth), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/monitor?token="+token(t, auth, service.TokenTypeEducator, "edu-1"), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/monitor?token="+token(t, auth, service.TokenTypeLearner, "learner-1"), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "EDUCATOR_ACCESS_ONLY")
}

func TestRequireLearnerWSAuth(t *testing.T) {
	auth := newAuth()
	r := gin.New()
	r.GET("/ws", RequireLearnerWSAuth(auth), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ws?token="+token(t, auth, service.TokenTypeLearner, "learner-1"), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireSelf(t *testing.T) {
	auth := newAuth()
	r := gin.New()
	r.GET("/count", RequireAnyJWT(auth), RequireSelf("studentId"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(tok, student string) int {
		req := httptest.NewRequest(http.MethodGet, "/count?studentId="+student, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		return serve(r, req).Code
	}
	learner := token(t, auth, service.TokenTypeLearner, "learner-1")
	educator := token(t, auth, service.TokenTypeEducator, "edu-1")

	assert.Equal(t, http.StatusNoContent, call(learner, "learner-1"))
	assert.Equal(t, http.StatusForbidden, call(learner, "learner-2"))
	assert.Equal(t, http.StatusNoContent, call(educator, "learner-2"))
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(t.Context(), 2, time.Minute)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestBrotli(t *testing.T) {
	big := strings.Repeat("proctor ", 400)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := serve(r, req)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	var sb strings.Builder
	_, err := io.Copy(&sb, brotli.NewReader(w.Body))
	require.NoError(t, err)
	assert.Equal(t, big, sb.String())

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())
}
