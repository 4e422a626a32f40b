package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TestRepository reads test definitions from the course catalog tables.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID returns a test with its questions ordered by order_num.
func (r *TestRepository) GetByID(ctx context.Context, testID string) (*model.TestDefinition, error) {
	d := &model.TestDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, lecture_id, chapter_number, educator_id, title, duration_minutes, passing_score
		 FROM tests WHERE id = $1`, testID,
	).Scan(&d.ID, &d.CourseID, &d.LectureID, &d.ChapterNumber, &d.EducatorID, &d.Title, &d.DurationMinutes, &d.PassingScore)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, question_type, options, correct_answer, order_num
		 FROM test_questions WHERE test_id = $1
		 ORDER BY order_num`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		var options []byte
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &options, &q.CorrectAnswer, &q.OrderNum); err != nil {
			return nil, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
			}
		}
		d.Questions = append(d.Questions, q)
	}
	return d, rows.Err()
}

// Save replaces a test and its questions in one transaction.
func (r *TestRepository) Save(ctx context.Context, d *model.TestDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO tests (id, course_id, lecture_id, chapter_number, educator_id, title, duration_minutes, passing_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   course_id = EXCLUDED.course_id, lecture_id = EXCLUDED.lecture_id,
		   chapter_number = EXCLUDED.chapter_number, educator_id = EXCLUDED.educator_id,
		   title = EXCLUDED.title, duration_minutes = EXCLUDED.duration_minutes,
		   passing_score = EXCLUDED.passing_score`,
		d.ID, d.CourseID, d.LectureID, d.ChapterNumber, d.EducatorID, d.Title, d.DurationMinutes, d.PassingScore,
	)
	if err != nil {
		return fmt.Errorf("upsert test: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM test_questions WHERE test_id = $1`, d.ID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	batch := &pgx.Batch{}
	for _, q := range d.Questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options of %s: %w", q.ID, err)
		}
		batch.Queue(
			`INSERT INTO test_questions (id, test_id, question_text, question_type, options, correct_answer, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			q.ID, d.ID, q.Text, string(q.Type), options, q.CorrectAnswer, q.OrderNum,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	return tx.Commit(ctx)
}
