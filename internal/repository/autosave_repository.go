package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AutosaveRepository is the durable copy of in-progress answers. Redis holds
// the hot copy; the autosave worker drains the write queue into this table.
type AutosaveRepository struct {
	pool *pgxpool.Pool
}

// NewAutosaveRepository creates a new AutosaveRepository.
func NewAutosaveRepository(pool *pgxpool.Pool) *AutosaveRepository {
	return &AutosaveRepository{pool: pool}
}

// Upsert creates or replaces one saved answer.
func (r *AutosaveRepository) Upsert(ctx context.Context, sessionID uuid.UUID, sectionIndex int, questionID uuid.UUID, answer string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO autosaved_answers (session_id, section_index, question_id, answer)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, section_index, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		sessionID, sectionIndex, questionID, answer,
	)
	if err != nil {
		return fmt.Errorf("upsert autosaved answer: %w", err)
	}
	return nil
}

// UpsertBatch writes many answers in one statement. Records must be unique
// per (session, section, question).
func (r *AutosaveRepository) UpsertBatch(ctx context.Context, records []model.AutosaveRecord) error {
	if len(records) == 0 {
		return nil
	}
	sessionIDs := make([]uuid.UUID, len(records))
	sections := make([]int32, len(records))
	questionIDs := make([]uuid.UUID, len(records))
	answers := make([]string, len(records))
	for i, rec := range records {
		sessionIDs[i] = rec.SessionID
		sections[i] = int32(rec.SectionIndex)
		questionIDs[i] = rec.QuestionID
		answers[i] = rec.Answer
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO autosaved_answers (session_id, section_index, question_id, answer)
		 SELECT u.session_id, u.section_index, u.question_id, u.answer
		 FROM UNNEST($1::uuid[], $2::int[], $3::uuid[], $4::text[])
		      AS u (session_id, section_index, question_id, answer)
		 ON CONFLICT (session_id, section_index, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		sessionIDs, sections, questionIDs, answers,
	)
	if err != nil {
		return fmt.Errorf("bulk upsert autosaved answers: %w", err)
	}
	return nil
}

// ListBySection returns question id → answer for one section of a session.
func (r *AutosaveRepository) ListBySection(ctx context.Context, sessionID uuid.UUID, sectionIndex int) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id::text, answer
		 FROM autosaved_answers
		 WHERE session_id = $1 AND section_index = $2`, sessionID, sectionIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("list autosaved answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var qid, ans string
		if err := rows.Scan(&qid, &ans); err != nil {
			return nil, fmt.Errorf("scan autosaved answer: %w", err)
		}
		answers[qid] = ans
	}
	return answers, rows.Err()
}
