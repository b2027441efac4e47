package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AnswerPayloadVersion is the schema version written by this build.
const AnswerPayloadVersion = 1

// AnswerPayload is the raw answer record stored with a SectionSubmission.
type AnswerPayload struct {
	Version           int                   `json:"version"`
	MCQAnswers        map[uuid.UUID]string  `json:"mcqAnswers"`
	CodingSubmissions []CodingSubmissionRef `json:"codingSubmissions"`
}

// CodingSubmissionRef points at a solution already handed to the code judge.
type CodingSubmissionRef struct {
	QuestionID   uuid.UUID  `json:"questionId" binding:"required"`
	SubmissionID *uuid.UUID `json:"submissionId,omitempty"`
}

// NewAnswerPayload builds a current-version payload from request data.
// MCQ keys that are not UUIDs are rejected.
func NewAnswerPayload(mcq map[string]string, coding []CodingSubmissionRef) (*AnswerPayload, error) {
	p := &AnswerPayload{
		Version:           AnswerPayloadVersion,
		MCQAnswers:        make(map[uuid.UUID]string, len(mcq)),
		CodingSubmissions: append([]CodingSubmissionRef(nil), coding...),
	}
	for k, v := range mcq {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("mcq answer key %q: %w", k, err)
		}
		p.MCQAnswers[id] = NormalizeOption(v)
	}
	return p, nil
}

// EmptyAnswerPayload is used when nothing was saved for a section.
func EmptyAnswerPayload() *AnswerPayload {
	return &AnswerPayload{Version: AnswerPayloadVersion, MCQAnswers: map[uuid.UUID]string{}}
}

// Selected returns the normalized option the student picked for questionID.
func (p *AnswerPayload) Selected(questionID uuid.UUID) (string, bool) {
	if p == nil || p.MCQAnswers == nil {
		return "", false
	}
	v, ok := p.MCQAnswers[questionID]
	return v, ok && v != ""
}

// Encode marshals the payload for a JSONB column.
func (p *AnswerPayload) Encode() ([]byte, error) {
	if p.Version == 0 {
		p.Version = AnswerPayloadVersion
	}
	return json.Marshal(p)
}

// DecodeAnswerPayload parses a stored payload, refusing versions this build does not know.
func DecodeAnswerPayload(raw []byte) (*AnswerPayload, error) {
	if len(raw) == 0 {
		return EmptyAnswerPayload(), nil
	}
	var p AnswerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode answer payload: %w", err)
	}
	if p.Version != AnswerPayloadVersion {
		return nil, fmt.Errorf("decode answer payload: unsupported version %d", p.Version)
	}
	if p.MCQAnswers == nil {
		p.MCQAnswers = map[uuid.UUID]string{}
	}
	return &p, nil
}

// NormalizeOption trims and upper-cases an option letter.
func NormalizeOption(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// AutosaveRecord is one queued in-progress answer waiting to be persisted.
type AutosaveRecord struct {
	SessionID    uuid.UUID `json:"sessionId"`
	SectionIndex int       `json:"sectionIndex"`
	QuestionID   uuid.UUID `json:"questionId"`
	Answer       string    `json:"answer"`
}
