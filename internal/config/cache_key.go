package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// LearnerActiveTestKey returns the lock key held while a learner has a running test session
func (r *CacheKeyStruct) LearnerActiveTestKey(studentID string) string {
	return fmt.Sprintf("learner:%s:active_test", studentID)
}

// LearnerTimeSpentKey returns the key storing seconds already spent on a partial attempt
func (r *CacheKeyStruct) LearnerTimeSpentKey(studentID, testID string) string {
	return fmt.Sprintf("learner:%s:test:%s:time_spent", studentID, testID)
}

// TestDefinitionKey returns the cache key for a test definition payload
func (r *CacheKeyStruct) TestDefinitionKey(testID string) string {
	return fmt.Sprintf("test:%s:definition", testID)
}

// CourseViolationChannel returns the Redis PubSub channel for a course's violation monitor
func (r *CacheKeyStruct) CourseViolationChannel(courseID string) string {
	return fmt.Sprintf("course:%s:violations", courseID)
}

var CacheKey = NewCacheKeyStruct()
