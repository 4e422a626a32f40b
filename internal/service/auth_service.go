package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// TokenType distinguishes learner vs educator tokens.
type TokenType string

const (
	TokenTypeLearner  TokenType = "learner"
	TokenTypeEducator TokenType = "educator"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeLearner || t == TokenTypeEducator
}

// Claims extends JWT standard claims with app-specific fields.
// Identity is issued by the platform; the subject is the learner or
// educator ID.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    string    `json:"user_id"`
	// Wallet is the connected wallet address, when the platform knows it.
	Wallet string `json:"wallet,omitempty"`
}

// AuthService validates and issues JWTs.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// IssueToken signs a token for userID. Used by cmd/issue-token and tests;
// production tokens come from the platform's identity service.
func (s *AuthService) IssueToken(tokenType TokenType, userID, wallet string, ttl time.Duration) (string, error) {
	if !tokenType.Valid() {
		return "", fmt.Errorf("unknown token type %q", tokenType)
	}
	if userID == "" {
		return "", errors.New("user id required")
	}
	if ttl <= 0 {
		ttl = s.cfg.JWTExpiry
	}
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
		UserID:    userID,
		Wallet:    wallet,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if !claims.TokenType.Valid() || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
