package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// TestRepository reads tests and their ordered sections. The authoring
// subsystem owns these tables; this engine never writes them.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID loads a test with its sections and questions in section order.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, scheduled_start, scheduled_end
		 FROM tests
		 WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.ScheduledStart, &t.ScheduledEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	sections, err := r.listSections(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Sections = sections
	return t, nil
}

// ListUpcomingIDs returns tests whose start is at or after since, for cache warm-up.
func (r *TestRepository) ListUpcomingIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM tests WHERE scheduled_start >= $1 ORDER BY scheduled_start`, since)
	if err != nil {
		return nil, fmt.Errorf("list upcoming tests: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *TestRepository) listSections(ctx context.Context, testID uuid.UUID) ([]model.Section, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, section_index, title, kind, duration_minutes, correct_marks, wrong_marks
		 FROM test_sections
		 WHERE test_id = $1
		 ORDER BY section_index`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.Index, &s.Title, &s.Kind, &s.DurationMinutes, &s.CorrectMarks, &s.WrongMarks); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}

	byID := make(map[uuid.UUID]*model.Section, len(sections))
	for i := range sections {
		byID[sections[i].ID] = &sections[i]
	}

	if err := r.attachMCQs(ctx, testID, byID); err != nil {
		return nil, err
	}
	if err := r.attachCoding(ctx, testID, byID); err != nil {
		return nil, err
	}
	return sections, nil
}

func (r *TestRepository) attachMCQs(ctx context.Context, testID uuid.UUID, byID map[uuid.UUID]*model.Section) error {
	rows, err := r.pool.Query(ctx,
		`SELECT q.section_id, q.id, q.question_text, q.options, q.correct_option, q.order_num
		 FROM mcq_questions q
		 JOIN test_sections s ON s.id = q.section_id
		 WHERE s.test_id = $1
		 ORDER BY q.section_id, q.order_num`, testID,
	)
	if err != nil {
		return fmt.Errorf("list mcq questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sectionID uuid.UUID
		var q model.MCQQuestion
		if err := rows.Scan(&sectionID, &q.ID, &q.QuestionText, &q.Options, &q.CorrectOption, &q.OrderNum); err != nil {
			return fmt.Errorf("scan mcq question: %w", err)
		}
		if s, ok := byID[sectionID]; ok {
			s.MCQQuestions = append(s.MCQQuestions, q)
		}
	}
	return rows.Err()
}

func (r *TestRepository) attachCoding(ctx context.Context, testID uuid.UUID, byID map[uuid.UUID]*model.Section) error {
	rows, err := r.pool.Query(ctx,
		`SELECT q.section_id, q.id, q.title, q.prompt, q.marks, q.order_num
		 FROM coding_questions q
		 JOIN test_sections s ON s.id = q.section_id
		 WHERE s.test_id = $1
		 ORDER BY q.section_id, q.order_num`, testID,
	)
	if err != nil {
		return fmt.Errorf("list coding questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sectionID uuid.UUID
		var q model.CodingQuestion
		if err := rows.Scan(&sectionID, &q.ID, &q.Title, &q.Prompt, &q.Marks, &q.OrderNum); err != nil {
			return fmt.Errorf("scan coding question: %w", err)
		}
		if s, ok := byID[sectionID]; ok {
			s.CodingQuestions = append(s.CodingQuestions, q)
		}
	}
	return rows.Err()
}
