package model

import "time"

// DefaultPassingScore applies when a test does not define its own.
const DefaultPassingScore = 70

// SessionState enumerates the proctored session lifecycle.
type SessionState string

const (
	SessionIdle           SessionState = "idle"
	SessionArmed          SessionState = "armed"
	SessionRunning        SessionState = "running"
	SessionGrading        SessionState = "grading"
	SessionPassed         SessionState = "passed"
	SessionFailed         SessionState = "failed"
	SessionManuallyClosed SessionState = "manually_closed"
)

// Terminal reports whether s ends the attempt.
func (s SessionState) Terminal() bool {
	return s == SessionPassed || s == SessionFailed || s == SessionManuallyClosed
}

// TestDefinition is the read-only test contract consumed from the catalog.
type TestDefinition struct {
	ID              string     `json:"id"`
	CourseID        string     `json:"course_id"`
	LectureID       string     `json:"lecture_id"`
	ChapterNumber   int        `json:"chapter_number"`
	EducatorID      string     `json:"educator_id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	PassingScore    int        `json:"passing_score"`
	Questions       []Question `json:"questions"`
}

// EffectivePassingScore falls back to DefaultPassingScore when unset.
func (d *TestDefinition) EffectivePassingScore() int {
	if d.PassingScore <= 0 {
		return DefaultPassingScore
	}
	return d.PassingScore
}

// TestSession is the in-memory state of one attempt.
type TestSession struct {
	TestID               string         `json:"test_id"`
	CourseID             string         `json:"course_id"`
	LectureID            string         `json:"lecture_id"`
	ChapterNumber        int            `json:"chapter_number"`
	Duration             int            `json:"duration_seconds"`
	Questions            []Question     `json:"-"`
	Answers              map[int]string `json:"answers"`
	RemainingSeconds     int            `json:"remaining_seconds"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	State                SessionState   `json:"state"`
	ExitAttempted        bool           `json:"exit_attempted"`
}

// AnswerResult records one question's outcome. Correct is nil for essays.
type AnswerResult struct {
	QuestionIndex int    `json:"question_index"`
	QuestionID    string `json:"question_id"`
	Answer        string `json:"answer"`
	Correct       *bool  `json:"correct,omitempty"`
}

// TestResult is computed once at submission.
type TestResult struct {
	Score          int            `json:"score"`
	CorrectAnswers int            `json:"correct_answers"`
	TotalQuestions int            `json:"total_questions"`
	Passed         bool           `json:"passed"`
	PassingScore   int            `json:"passing_score"`
	TimeSpent      int            `json:"time_spent"`
	Answers        []AnswerResult `json:"answers"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}
