package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates test session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusOnBreak    SessionStatus = "on_break"
	SessionStatusCompleted  SessionStatus = "completed"
)

// Session is one student's attempt record for one test.
type Session struct {
	ID                      uuid.UUID     `json:"sessionId"`
	TestID                  uuid.UUID     `json:"testId"`
	StudentID               string        `json:"studentId"`
	Status                  SessionStatus `json:"status"`
	CurrentSectionIndex     int           `json:"currentSectionIndex"`
	CompletedSectionIndices []int         `json:"completedSectionIndices"`
	StartedAt               time.Time     `json:"startedAt"`
	SectionStartTime        *time.Time    `json:"sectionStartTime,omitempty"`
	SectionEndTime          *time.Time    `json:"sectionEndTime,omitempty"`
	BreakStartTime          *time.Time    `json:"breakStartTime,omitempty"`
	BreakEndTime            *time.Time    `json:"breakEndTime,omitempty"`
	CompletedAt             *time.Time    `json:"completedAt,omitempty"`
	// ExpiresAt is StartedAt plus every section's duration; the coarse deadline.
	ExpiresAt  time.Time `json:"expiresAt"`
	TotalScore float64   `json:"totalScore"`
	MaxScore   float64   `json:"maxScore"`
}

// IsCompleted reports whether the session reached the terminal state.
func (s *Session) IsCompleted() bool {
	return s.Status == SessionStatusCompleted
}

// IsActive reports whether the session can still receive submissions.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusInProgress || s.Status == SessionStatusOnBreak
}

// SectionExpired reports whether the current section's deadline has passed at now.
func (s *Session) SectionExpired(now time.Time) bool {
	return s.SectionEndTime != nil && !now.Before(*s.SectionEndTime)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.CompletedSectionIndices = append([]int(nil), s.CompletedSectionIndices...)
	c.SectionStartTime = cloneTime(s.SectionStartTime)
	c.SectionEndTime = cloneTime(s.SectionEndTime)
	c.BreakStartTime = cloneTime(s.BreakStartTime)
	c.BreakEndTime = cloneTime(s.BreakEndTime)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StartSessionRequest is the payload for starting (or resuming) a test session.
type StartSessionRequest struct {
	TestID    string `json:"testId" binding:"required,uuid"`
	StudentID string `json:"studentId" binding:"required,min=1,max=64"`
}

// SessionPathParams binds the /:testId/:studentId route parameters.
type SessionPathParams struct {
	TestID    string `uri:"testId" binding:"required,uuid"`
	StudentID string `uri:"studentId" binding:"required,min=1,max=64"`
}

// SubmitSectionRequest is the payload for submitting the current section.
type SubmitSectionRequest struct {
	MCQAnswers        map[string]string     `json:"mcqAnswers" binding:"omitempty,dive,keys,uuid,endkeys,option"`
	CodingSubmissions []CodingSubmissionRef `json:"codingSubmissions" binding:"omitempty,dive"`
	TimeSpent         int                   `json:"timeSpent" binding:"min=0"`
	SectionIndex      *int                  `json:"sectionIndex" binding:"omitempty,min=0"`
}

// AutosaveRequest is the payload for saving one in-progress MCQ answer.
type AutosaveRequest struct {
	QuestionID string `json:"questionId" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"required,option"`
}
