package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// SectionCatalog supplies the read-only test definition.
type SectionCatalog interface {
	GetTest(ctx context.Context, testID uuid.UUID) (*model.Test, error)
}

// IdentityResolver classifies a student id into one of the two account variants.
type IdentityResolver interface {
	Resolve(ctx context.Context, studentID string) (model.Account, error)
}

// JudgeLookup returns the latest externally judged coding result, or nil if there is none.
type JudgeLookup interface {
	LatestResult(ctx context.Context, studentID string, testID, questionID uuid.UUID) (*model.JudgeResult, error)
}

// AutosaveStore holds the last known in-progress MCQ answers per section.
type AutosaveStore interface {
	Load(ctx context.Context, sessionID uuid.UUID, sectionIndex int) (map[string]string, error)
	Save(ctx context.Context, sessionID uuid.UUID, sectionIndex int, questionID uuid.UUID, answer string) error
}

// Timeouts arms and clears the deadline timers of a session.
type Timeouts interface {
	Schedule(s *model.Session)
	Cancel(sessionID uuid.UUID)
}

// CompletionNotifier tells the reporting side that a session finished.
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, ev model.CompletionEvent) error
}

// SessionStore is the durable session record.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID string) (*model.Session, error)
	Create(ctx context.Context, s *model.Session, first *model.SectionScore) error
	EndBreak(ctx context.Context, id uuid.UUID, sectionStart, sectionEnd time.Time) (*model.Session, error)
	ListSubmissions(ctx context.Context, sessionID uuid.UUID) ([]model.SectionSubmission, error)
	ListInProgress(ctx context.Context) ([]model.Session, error)
	WithTx(ctx context.Context, fn func(tx repository.SessionTx) error) error
}
