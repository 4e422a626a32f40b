package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// RequireLearnerJWT validates a learner JWT from the Authorization header.
func RequireLearnerJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, false, service.TokenTypeLearner)
}

// RequireEducatorJWT validates an educator JWT. The token query parameter is
// accepted for EventSource clients.
func RequireEducatorJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, true, service.TokenTypeEducator)
}

// RequireAnyJWT accepts learner and educator tokens.
func RequireAnyJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, false, service.TokenTypeLearner, service.TokenTypeEducator)
}

// RequireLearnerWSAuth validates a learner JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireLearnerWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, tokenErrCode(err))
			return
		}

		if claims.TokenType != service.TokenTypeLearner {
			response.AbortFail(c, http.StatusForbidden, response.ErrLearnerAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

func requireToken(authService *service.AuthService, queryFallback bool, allowed ...service.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService, queryFallback)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, tokenErrCode(err))
			return
		}

		for _, t := range allowed {
			if claims.TokenType == t {
				c.Set(ContextKeyClaims, claims)
				c.Next()
				return
			}
		}

		code := response.ErrForbidden
		if len(allowed) == 1 && allowed[0] == service.TokenTypeLearner {
			code = response.ErrLearnerAccessOnly
		} else if len(allowed) == 1 && allowed[0] == service.TokenTypeEducator {
			code = response.ErrEducatorAccessOnly
		}
		response.AbortFail(c, http.StatusForbidden, code)
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

var errTokenMissing = errors.New("authorization header or token query required")

func extractAndValidateClaims(c *gin.Context, authService *service.AuthService, queryFallback bool) (*service.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = parts[1]
		}
	}

	// Fallback for EventSource (SSE) which cannot send headers
	if tokenStr == "" && queryFallback {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return nil, errTokenMissing
	}

	claims, err := authService.ValidateToken(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return claims, nil
}

func tokenErrCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, errTokenMissing):
		return response.ErrTokenRequired
	case errors.Is(err, jwt.ErrTokenExpired):
		return response.ErrTokenExpired
	default:
		return response.ErrTokenInvalid
	}
}
