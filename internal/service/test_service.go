package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

var (
	ErrTestNotFound   = errors.New("test not found")
	ErrTestMismatch   = errors.New("test does not belong to this course")
	ErrTestNoQuestion = errors.New("test has no questions")
)

// testCacheTTL keeps a definition warm for a typical cohort window.
const testCacheTTL = 30 * time.Minute

// TestService serves read-only test definitions with a Redis read-through cache.
type TestService struct {
	repo *repository.TestRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(repo *repository.TestRepository, rdb *redis.Client, log zerolog.Logger) *TestService {
	return &TestService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "test_service").Logger(),
	}
}

// Definition returns the test for courseID, including the answer key.
func (s *TestService) Definition(ctx context.Context, courseID, testID string) (*model.TestDefinition, error) {
	key := config.CacheKey.TestDefinitionKey(testID)

	var def *model.TestDefinition
	if cached, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var d model.TestDefinition
		if err := json.Unmarshal(cached, &d); err == nil {
			def = &d
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("test_id", testID).Msg("Test cache read failed")
	}

	if def == nil {
		d, err := s.repo.GetByID(ctx, testID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load test: %w", err)
		}
		def = d
		if payload, err := json.Marshal(def); err == nil {
			if err := s.rdb.Set(ctx, key, payload, testCacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Str("test_id", testID).Msg("Test cache write failed")
			}
		}
	}

	if def.CourseID != courseID {
		return nil, ErrTestMismatch
	}
	if len(def.Questions) == 0 {
		return nil, ErrTestNoQuestion
	}
	return def, nil
}

// Invalidate drops the cached definition of testID.
func (s *TestService) Invalidate(ctx context.Context, testID string) error {
	return s.rdb.Del(ctx, config.CacheKey.TestDefinitionKey(testID)).Err()
}
