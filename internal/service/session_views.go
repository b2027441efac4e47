package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// StartResult is returned by StartSession.
type StartResult struct {
	Session *model.Session `json:"session"`
	Resumed bool           `json:"resumed"`
}

// CurrentState names which variant of CurrentSectionView is populated.
type CurrentState string

const (
	CurrentStateSection       CurrentState = "section"
	CurrentStateOnBreak       CurrentState = "onBreak"
	CurrentStateExpired       CurrentState = "sectionExpired"
	CurrentStateTestCompleted CurrentState = "testCompleted"
)

// CurrentSectionView is the student's view of where the session stands.
type CurrentSectionView struct {
	State            CurrentState             `json:"state"`
	OnBreak          bool                     `json:"onBreak,omitempty"`
	SectionExpired   bool                     `json:"sectionExpired,omitempty"`
	TestCompleted    bool                     `json:"testCompleted,omitempty"`
	RemainingSeconds int                      `json:"remainingSeconds"`
	SectionIndex     int                      `json:"sectionIndex"`
	SectionCount     int                      `json:"sectionCount"`
	SectionEndTime   *time.Time               `json:"sectionEndTime,omitempty"`
	Section          *model.SectionForStudent `json:"section,omitempty"`
	SavedAnswers     map[string]string        `json:"savedAnswers,omitempty"`
}

// SubmitResult is either a section-completed or a test-completed outcome.
type SubmitResult struct {
	SectionCompleted bool     `json:"sectionCompleted"`
	SectionIndex     int      `json:"sectionIndex"`
	SectionScore     float64  `json:"sectionScore"`
	SectionMaxScore  float64  `json:"sectionMaxScore"`
	NextSectionIndex *int     `json:"nextSectionIndex,omitempty"`
	TestCompleted    bool     `json:"testCompleted"`
	TotalScore       *float64 `json:"totalScore,omitempty"`
	MaxScore         *float64 `json:"maxScore,omitempty"`
}

// SectionResultView is one row of the final score breakdown.
type SectionResultView struct {
	SectionIndex     int                    `json:"sectionIndex"`
	Title            string                 `json:"title"`
	Score            float64                `json:"score"`
	MaxScore         float64                `json:"maxScore"`
	TimeSpentSeconds int                    `json:"timeSpentSeconds"`
	Source           model.SubmissionSource `json:"source"`
	SubmittedAt      time.Time              `json:"submittedAt"`
	CodingResults    []model.CodingResult   `json:"codingResults"`
}

// ResultsView is the final score breakdown of a completed session.
type ResultsView struct {
	SessionID   uuid.UUID           `json:"sessionId"`
	TestID      uuid.UUID           `json:"testId"`
	StudentID   string              `json:"studentId"`
	TestTitle   string              `json:"testTitle"`
	TotalScore  float64             `json:"totalScore"`
	MaxScore    float64             `json:"maxScore"`
	CompletedAt *time.Time          `json:"completedAt"`
	Sections    []SectionResultView `json:"sections"`
}
