package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// JudgeRepository reads results the external code-judging service writes
// into coding_submissions.
type JudgeRepository struct {
	pool *pgxpool.Pool
}

// NewJudgeRepository creates a new JudgeRepository.
func NewJudgeRepository(pool *pgxpool.Pool) *JudgeRepository {
	return &JudgeRepository{pool: pool}
}

// LatestResult returns the most recent non-dry-run judged submission for
// (student, test, question), or nil when the student never submitted.
func (r *JudgeRepository) LatestResult(ctx context.Context, studentID string, testID, questionID uuid.UUID) (*model.JudgeResult, error) {
	res := &model.JudgeResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, question_id, score, test_cases_passed, total_test_cases, submitted_at
		 FROM coding_submissions
		 WHERE student_id = $1 AND test_id = $2 AND question_id = $3
		   AND is_dry_run = FALSE
		   AND judged_at IS NOT NULL
		 ORDER BY submitted_at DESC
		 LIMIT 1`, studentID, testID, questionID,
	).Scan(&res.SubmissionID, &res.QuestionID, &res.Score, &res.TestCasesPassed, &res.TotalTestCases, &res.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest judged submission: %w", err)
	}
	return res, nil
}
