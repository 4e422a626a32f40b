package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, parseOrigins(" https://a.test , ,https://b.test"))
}

func TestLoad_ProctorOverrides(t *testing.T) {
	t.Setenv("PROCTOR_FAIL_YAW_DEG", "50")
	t.Setenv("PROCTOR_TAB_HIDDEN_GRACE", "3s")
	t.Setenv("PROCTOR_REPORT_HISTORY_CAP", "not-a-number")
	t.Setenv("BACKEND_URL", "https://backend.test/")
	t.Setenv("BLOCK_THRESHOLD", "5")

	cfg := Load()

	assert.Equal(t, 50.0, cfg.Proctor.FailYawDegrees)
	assert.Equal(t, 3*time.Second, cfg.Proctor.TabHiddenGrace)
	assert.Equal(t, 50, cfg.Proctor.ReportHistoryCap)
	assert.Equal(t, "https://backend.test", cfg.BackendURL)
	assert.Equal(t, 5, cfg.BlockThreshold)
	require.NoError(t, cfg.Proctor.Validate())
}

func TestProctorConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProctorConfig)
	}{
		{"yaw bounds inverted", func(c *ProctorConfig) { c.FailYawDegrees = c.WarnYawDegrees }},
		{"pitch bounds inverted", func(c *ProctorConfig) { c.FailPitchDegrees = 10 }},
		{"face windows inverted", func(c *ProctorConfig) { c.FaceFailAfter = c.FaceWarnAfter }},
		{"confidence out of range", func(c *ProctorConfig) { c.PhoneMinConfidence = 1.5 }},
		{"zero dedup bucket", func(c *ProctorConfig) { c.DedupBucket = 0 }},
		{"evict above cap", func(c *ProctorConfig) { c.ReportHistoryEvict = c.ReportHistoryCap + 1 }},
	}
	require.NoError(t, DefaultProctorConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProctorConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "learner:s1:active_test", CacheKey.LearnerActiveTestKey("s1"))
	assert.Equal(t, "learner:s1:test:t1:time_spent", CacheKey.LearnerTimeSpentKey("s1", "t1"))
	assert.Equal(t, "course:c1:violations", CacheKey.CourseViolationChannel("c1"))
}
