package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationRepository handles violation record data access.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Create inserts a violation record and returns the learner's new course count.
func (r *ViolationRepository) Create(ctx context.Context, v *model.ViolationRecord) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	all := make([]string, len(v.AllViolations))
	for i, t := range v.AllViolations {
		all[i] = string(t)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO violation_records
		   (student_id, course_id, test_id, violation_type, message, all_violations,
		    evidence_image, evidence_object, wallet_address, educator_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		v.StudentID, v.CourseID, v.TestID, v.ViolationType, v.Message, all,
		v.EvidenceImage, v.EvidenceObject, v.WalletAddress, v.EducatorID,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return 0, err
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM violation_records WHERE student_id = $1 AND course_id = $2`,
		v.StudentID, v.CourseID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, tx.Commit(ctx)
}

// Count returns the number of violations recorded for a learner in a course.
func (r *ViolationRepository) Count(ctx context.Context, studentID, courseID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM violation_records WHERE student_id = $1 AND course_id = $2`,
		studentID, courseID,
	).Scan(&count)
	return count, err
}

// ListByCourse returns the most recent violations of a course, newest first.
// Inline evidence is omitted.
func (r *ViolationRepository) ListByCourse(ctx context.Context, courseID string, limit int) ([]model.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, course_id, test_id, violation_type, message, all_violations,
		        evidence_object, wallet_address, educator_id, created_at
		 FROM violation_records
		 WHERE course_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, courseID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ViolationRecord
	for rows.Next() {
		var v model.ViolationRecord
		var all []string
		if err := rows.Scan(&v.ID, &v.StudentID, &v.CourseID, &v.TestID, &v.ViolationType, &v.Message, &all,
			&v.EvidenceObject, &v.WalletAddress, &v.EducatorID, &v.CreatedAt); err != nil {
			return nil, err
		}
		for _, t := range all {
			v.AllViolations = append(v.AllViolations, model.ViolationType(t))
		}
		records = append(records, v)
	}
	return records, rows.Err()
}
