package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionSource records who closed a section.
type SubmissionSource string

const (
	SubmissionSourceClient  SubmissionSource = "client"
	SubmissionSourceTimeout SubmissionSource = "timeout"
)

// SectionSubmission is the append-only record of one submitted section.
type SectionSubmission struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"sessionId"`
	SectionIndex     int              `json:"sectionIndex"`
	Score            float64          `json:"score"`
	MaxScore         float64          `json:"maxScore"`
	TimeSpentSeconds int              `json:"timeSpentSeconds"`
	Source           SubmissionSource `json:"source"`
	Answers          AnswerPayload    `json:"answers"`
	CodingResults    []CodingResult   `json:"codingResults"`
	SubmittedAt      time.Time        `json:"submittedAt"`
}

// SectionScoreStatus is the progress state of the per-section projection.
type SectionScoreStatus string

const (
	SectionScoreNotStarted SectionScoreStatus = "not_started"
	SectionScoreInProgress SectionScoreStatus = "in_progress"
	SectionScoreCompleted  SectionScoreStatus = "completed"
)

// SectionScore is the denormalized per-section progress row read by reporting.
type SectionScore struct {
	SessionID    uuid.UUID          `json:"sessionId"`
	SectionIndex int                `json:"sectionIndex"`
	Status       SectionScoreStatus `json:"status"`
	Score        float64            `json:"score"`
	MaxScore     float64            `json:"maxScore"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// JudgeResult is the externally judged outcome of a coding submission.
type JudgeResult struct {
	SubmissionID    uuid.UUID `json:"submissionId"`
	QuestionID      uuid.UUID `json:"questionId"`
	Score           float64   `json:"score"`
	TestCasesPassed int       `json:"testCasesPassed"`
	TotalTestCases  int       `json:"totalTestCases"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// CodingResult is the scored outcome of one coding question inside a section.
type CodingResult struct {
	QuestionID      uuid.UUID  `json:"questionId"`
	SubmissionID    *uuid.UUID `json:"submissionId,omitempty"`
	Score           float64    `json:"score"`
	MaxScore        float64    `json:"maxScore"`
	TestCasesPassed int        `json:"testCasesPassed"`
	TotalTestCases  int        `json:"totalTestCases"`
}

// CompletionEvent is published once a session reaches the completed state.
type CompletionEvent struct {
	SessionID   uuid.UUID        `json:"sessionId"`
	TestID      uuid.UUID        `json:"testId"`
	StudentID   string           `json:"studentId"`
	TotalScore  float64          `json:"totalScore"`
	MaxScore    float64          `json:"maxScore"`
	CompletedAt time.Time        `json:"completedAt"`
	Source      SubmissionSource `json:"source"`
}
