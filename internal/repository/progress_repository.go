package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProgressRepository handles course progress data access. Tests and
// violations are stored as JSONB arrays on the progress row.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// Get returns the learner's progress with the violation count filled in.
// A learner without a row gets an empty record.
func (r *ProgressRepository) Get(ctx context.Context, studentID, courseID string) (*model.CourseProgress, error) {
	p := &model.CourseProgress{StudentID: studentID, CourseID: courseID}
	var tests, violations []byte

	err := r.pool.QueryRow(ctx,
		`SELECT cp.completed_lectures, cp.tests, cp.violations, cp.certificate_minted, cp.updated_at
		 FROM course_progress cp
		 WHERE cp.student_id = $1 AND cp.course_id = $2`, studentID, courseID,
	).Scan(&p.CompletedLectures, &tests, &violations, &p.CertificateMinted, &p.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(tests, &p.Tests); err != nil {
			return nil, fmt.Errorf("decode tests: %w", err)
		}
		if err := json.Unmarshal(violations, &p.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM violation_records WHERE student_id = $1 AND course_id = $2`,
		studentID, courseID,
	).Scan(&p.ViolationCount)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IsMinted reports whether the learner's course record is frozen by a
// certificate mint.
func (r *ProgressRepository) IsMinted(ctx context.Context, studentID, courseID string) (bool, error) {
	var minted bool
	err := r.pool.QueryRow(ctx,
		`SELECT certificate_minted FROM course_progress WHERE student_id = $1 AND course_id = $2`,
		studentID, courseID,
	).Scan(&minted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return minted, err
}

// CompleteLecture marks lectureID as completed. Repeats are ignored.
func (r *ProgressRepository) CompleteLecture(ctx context.Context, studentID, courseID, lectureID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO course_progress (student_id, course_id, completed_lectures)
		 VALUES ($1, $2, ARRAY[$3::text])
		 ON CONFLICT (student_id, course_id) DO UPDATE
		 SET completed_lectures = CASE
		       WHEN $3 = ANY(course_progress.completed_lectures) THEN course_progress.completed_lectures
		       ELSE array_append(course_progress.completed_lectures, $3)
		     END,
		     updated_at = NOW()
		 WHERE NOT course_progress.certificate_minted`,
		studentID, courseID, lectureID)
	return err
}

// AppendTest records a test attempt. A passed attempt also completes its lecture.
func (r *ProgressRepository) AppendTest(ctx context.Context, studentID, courseID string, rec model.TestAttemptRecord) error {
	body, err := json.Marshal([]model.TestAttemptRecord{rec})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO course_progress (student_id, course_id, tests, completed_lectures)
		 VALUES ($1, $2, $3::jsonb, CASE WHEN $5 THEN ARRAY[$4::text] ELSE '{}'::text[] END)
		 ON CONFLICT (student_id, course_id) DO UPDATE
		 SET tests = course_progress.tests || $3::jsonb,
		     completed_lectures = CASE
		       WHEN NOT $5 OR $4 = ANY(course_progress.completed_lectures) THEN course_progress.completed_lectures
		       ELSE array_append(course_progress.completed_lectures, $4)
		     END,
		     updated_at = NOW()
		 WHERE NOT course_progress.certificate_minted`,
		studentID, courseID, body, rec.LectureID, rec.Passed)
	return err
}

// AppendViolation embeds a violation in the progress record.
func (r *ProgressRepository) AppendViolation(ctx context.Context, studentID, courseID string, v model.ViolationEmbed) error {
	body, err := json.Marshal([]model.ViolationEmbed{v})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO course_progress (student_id, course_id, violations)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (student_id, course_id) DO UPDATE
		 SET violations = course_progress.violations || $3::jsonb,
		     updated_at = NOW()
		 WHERE NOT course_progress.certificate_minted`,
		studentID, courseID, body)
	return err
}

// MarkMinted freezes the record once the certificate has been minted.
func (r *ProgressRepository) MarkMinted(ctx context.Context, studentID, courseID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO course_progress (student_id, course_id, certificate_minted)
		 VALUES ($1, $2, TRUE)
		 ON CONFLICT (student_id, course_id) DO UPDATE
		 SET certificate_minted = TRUE, updated_at = NOW()`,
		studentID, courseID)
	return err
}
