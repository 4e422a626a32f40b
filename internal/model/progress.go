package model

import "time"

// TestProgress is the test-result variant of a progress update.
type TestProgress struct {
	Passed    bool           `json:"passed"`
	Score     int            `json:"score" binding:"min=0,max=100"`
	Answers   []AnswerResult `json:"answers"`
	TimeSpent int            `json:"timeSpent" binding:"min=0"`
}

// ViolationEmbed is the violation variant of a progress update.
type ViolationEmbed struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
	ImageData string        `json:"imageData,omitempty"`
}

// ProgressUpdateRequest is the body of POST /user/update-course-progress.
// Exactly one of the three variants is meaningful: lecture completion
// (neither Test nor Violation), test result, or violation embed.
type ProgressUpdateRequest struct {
	CourseID  string          `json:"courseId" binding:"required,max=128"`
	LectureID string          `json:"lectureId" binding:"required,max=128"`
	// TestID identifies the test a result belongs to. Defaults to LectureID.
	TestID    string          `json:"testId,omitempty" binding:"max=128"`
	Test      *TestProgress   `json:"test,omitempty"`
	Violation *ViolationEmbed `json:"violation,omitempty"`
}

// ProgressUpdateKind names the variant carried by a ProgressUpdateRequest.
type ProgressUpdateKind string

const (
	ProgressLecture   ProgressUpdateKind = "lecture"
	ProgressTest      ProgressUpdateKind = "test"
	ProgressViolation ProgressUpdateKind = "violation"
)

// Kind returns which body variant r carries.
func (r ProgressUpdateRequest) Kind() ProgressUpdateKind {
	switch {
	case r.Test != nil:
		return ProgressTest
	case r.Violation != nil:
		return ProgressViolation
	default:
		return ProgressLecture
	}
}

// TestAttemptRecord is the stored outcome of a test inside a progress record.
type TestAttemptRecord struct {
	TestID      string         `json:"test_id"`
	LectureID   string         `json:"lecture_id"`
	Passed      bool           `json:"passed"`
	Score       int            `json:"score"`
	TimeSpent   int            `json:"time_spent"`
	Answers     []AnswerResult `json:"answers,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// CourseProgress is a learner's progress record for one course.
type CourseProgress struct {
	StudentID         string              `json:"student_id"`
	CourseID          string              `json:"course_id"`
	CompletedLectures []string            `json:"completed_lectures"`
	Tests             []TestAttemptRecord `json:"tests"`
	Violations        []ViolationEmbed    `json:"violations"`
	ViolationCount    int                 `json:"violation_count"`
	IsBlocked         FlexBool            `json:"is_blocked"`
	CertificateMinted bool                `json:"certificate_minted"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TestPassed reports whether any recorded attempt of testID passed.
func (p *CourseProgress) TestPassed(testID string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.Tests {
		if t.TestID == testID && t.Passed {
			return true
		}
	}
	return false
}

// TestTimeSpent returns the latest recorded time spent on testID, in seconds.
func (p *CourseProgress) TestTimeSpent(testID string) int {
	if p == nil {
		return 0
	}
	spent := 0
	var latest time.Time
	for _, t := range p.Tests {
		if t.TestID == testID && !t.SubmittedAt.Before(latest) {
			spent = t.TimeSpent
			latest = t.SubmittedAt
		}
	}
	return spent
}

// ProgressJob is a queued progress update awaiting the progress worker.
type ProgressJob struct {
	StudentID  string                `json:"student_id"`
	Request    ProgressUpdateRequest `json:"request"`
	ReceivedAt time.Time             `json:"received_at"`
}
