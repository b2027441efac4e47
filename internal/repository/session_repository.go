package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

const sessionColumns = `id, test_id, student_id, status, current_section_index, completed_section_indices,
	started_at, section_start_time, section_end_time, break_start_time, break_end_time, completed_at,
	expires_at, total_score, max_score`

// SessionTx is the unit of work one section submission runs in. Every
// method shares the transaction; nothing is visible until it commits.
type SessionTx interface {
	// LockSession reads the session row with a row lock held until commit.
	LockSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	InsertSubmission(ctx context.Context, sub *model.SectionSubmission) error
	UpsertSectionScore(ctx context.Context, sc *model.SectionScore) error
	// SumSubmissions totals score and max score over every submission of the session.
	SumSubmissions(ctx context.Context, sessionID uuid.UUID) (score, maxScore float64, err error)
	AdvanceSection(ctx context.Context, s *model.Session) error
	CompleteSession(ctx context.Context, s *model.Session) error
}

// SessionRepository handles test session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetByID retrieves a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id))
}

// GetByTestAndStudent retrieves the session for a specific test-student combination.
func (r *SessionRepository) GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID string) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE test_id = $1 AND student_id = $2`,
		testID, studentID))
}

// Create inserts a new session together with the projection row of its first
// section. ErrSessionExists is returned when a concurrent start won the race.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session, first *model.SectionScore) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO test_sessions (id, test_id, student_id, status, current_section_index,
				completed_section_indices, started_at, section_start_time, section_end_time,
				expires_at, total_score, max_score)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (test_id, student_id) DO NOTHING
			 RETURNING id`,
			s.ID, s.TestID, s.StudentID, s.Status, s.CurrentSectionIndex,
			toInt32s(s.CompletedSectionIndices), s.StartedAt, s.SectionStartTime, s.SectionEndTime,
			s.ExpiresAt, s.TotalScore, s.MaxScore,
		).Scan(&s.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSessionExists
			}
			return fmt.Errorf("insert session: %w", err)
		}
		if first != nil {
			if err := upsertSectionScore(ctx, tx, first); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListInProgress returns every session that still has a live section timer.
func (r *SessionRepository) ListInProgress(ctx context.Context) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE status = $1 ORDER BY started_at`,
		model.SessionStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list in-progress sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// EndBreak moves an on_break session back to in_progress, clears the break
// fields and restarts the current section clock. It is a no-op when another
// caller already ended the break.
func (r *SessionRepository) EndBreak(ctx context.Context, id uuid.UUID, sectionStart, sectionEnd time.Time) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET status = $2, break_start_time = NULL, break_end_time = NULL,
		     section_start_time = $3, section_end_time = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $5
		 RETURNING `+sessionColumns,
		id, model.SessionStatusInProgress, sectionStart, sectionEnd, model.SessionStatusOnBreak))
	if errors.Is(err, ErrNotFound) {
		return r.GetByID(ctx, id)
	}
	return s, err
}

// ListSubmissions returns every section submission of a session in section order.
func (r *SessionRepository) ListSubmissions(ctx context.Context, sessionID uuid.UUID) ([]model.SectionSubmission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, section_index, score, max_score, time_spent_seconds, source,
		        answers, coding_results, submitted_at
		 FROM section_submissions
		 WHERE session_id = $1
		 ORDER BY section_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []model.SectionSubmission
	for rows.Next() {
		var sub model.SectionSubmission
		var answers, coding []byte
		if err := rows.Scan(&sub.ID, &sub.SessionID, &sub.SectionIndex, &sub.Score, &sub.MaxScore,
			&sub.TimeSpentSeconds, &sub.Source, &answers, &coding, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		payload, err := model.DecodeAnswerPayload(answers)
		if err != nil {
			return nil, err
		}
		sub.Answers = *payload
		if len(coding) > 0 {
			if err := json.Unmarshal(coding, &sub.CodingResults); err != nil {
				return nil, fmt.Errorf("decode coding results: %w", err)
			}
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// WithTx runs fn inside a single transaction; fn's error rolls everything back.
func (r *SessionRepository) WithTx(ctx context.Context, fn func(tx SessionTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&sessionTx{tx: tx})
	})
}

type sessionTx struct {
	tx pgx.Tx
}

func (t *sessionTx) LockSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1 FOR UPDATE`, sessionID))
}

func (t *sessionTx) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, sessionID))
}

func (t *sessionTx) InsertSubmission(ctx context.Context, sub *model.SectionSubmission) error {
	answers, err := sub.Answers.Encode()
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	coding, err := json.Marshal(sub.CodingResults)
	if err != nil {
		return fmt.Errorf("encode coding results: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO section_submissions (id, session_id, section_index, score, max_score,
			time_spent_seconds, source, answers, coding_results, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.SessionID, sub.SectionIndex, sub.Score, sub.MaxScore,
		sub.TimeSpentSeconds, sub.Source, answers, coding, sub.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSubmissionExists
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (t *sessionTx) UpsertSectionScore(ctx context.Context, sc *model.SectionScore) error {
	return upsertSectionScore(ctx, t.tx, sc)
}

func (t *sessionTx) SumSubmissions(ctx context.Context, sessionID uuid.UUID) (float64, float64, error) {
	var score, maxScore float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(score), 0), COALESCE(SUM(max_score), 0)
		 FROM section_submissions
		 WHERE session_id = $1`, sessionID,
	).Scan(&score, &maxScore)
	if err != nil {
		return 0, 0, fmt.Errorf("sum submissions: %w", err)
	}
	return score, maxScore, nil
}

func (t *sessionTx) AdvanceSection(ctx context.Context, s *model.Session) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE test_sessions
		 SET current_section_index = $2, completed_section_indices = $3,
		     section_start_time = $4, section_end_time = $5, status = $6, updated_at = NOW()
		 WHERE id = $1 AND status <> 'completed' AND current_section_index < $2`,
		s.ID, s.CurrentSectionIndex, toInt32s(s.CompletedSectionIndices),
		s.SectionStartTime, s.SectionEndTime, s.Status,
	)
	if err != nil {
		return fmt.Errorf("advance section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionImmutable
	}
	return nil
}

func (t *sessionTx) CompleteSession(ctx context.Context, s *model.Session) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE test_sessions
		 SET status = 'completed', completed_at = $2, total_score = $3, max_score = $4,
		     completed_section_indices = $5,
		     section_start_time = NULL, section_end_time = NULL,
		     break_start_time = NULL, break_end_time = NULL, updated_at = NOW()
		 WHERE id = $1 AND status <> 'completed'`,
		s.ID, s.CompletedAt, s.TotalScore, s.MaxScore, toInt32s(s.CompletedSectionIndices),
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionImmutable
	}
	return nil
}

func upsertSectionScore(ctx context.Context, tx pgx.Tx, sc *model.SectionScore) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO section_scores (session_id, section_index, status, score, max_score, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id, section_index) DO UPDATE
		 SET status = EXCLUDED.status, score = EXCLUDED.score,
		     max_score = EXCLUDED.max_score, updated_at = EXCLUDED.updated_at`,
		sc.SessionID, sc.SectionIndex, sc.Status, sc.Score, sc.MaxScore, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert section score: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	var completed []int32
	err := row.Scan(
		&s.ID, &s.TestID, &s.StudentID, &s.Status, &s.CurrentSectionIndex, &completed,
		&s.StartedAt, &s.SectionStartTime, &s.SectionEndTime, &s.BreakStartTime, &s.BreakEndTime, &s.CompletedAt,
		&s.ExpiresAt, &s.TotalScore, &s.MaxScore,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.CompletedSectionIndices = make([]int, len(completed))
	for i, v := range completed {
		s.CompletedSectionIndices[i] = int(v)
	}
	return s, nil
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
