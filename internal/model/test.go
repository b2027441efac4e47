package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SectionKind enumerates what a section contains.
type SectionKind string

const (
	SectionKindMCQ    SectionKind = "MCQ"
	SectionKindCoding SectionKind = "CODING"
	SectionKindMixed  SectionKind = "MIXED"
)

// Test is the read-only catalog view of an assessment and its ordered sections.
type Test struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	ScheduledStart time.Time  `json:"scheduledStart"`
	ScheduledEnd   *time.Time `json:"scheduledEnd,omitempty"`
	Sections       []Section  `json:"sections"`
}

// Section is an ordered, independently timed portion of a test.
type Section struct {
	ID              uuid.UUID        `json:"id"`
	Index           int              `json:"index"`
	Title           string           `json:"title"`
	Kind            SectionKind      `json:"kind"`
	DurationMinutes int              `json:"durationMinutes"`
	CorrectMarks    float64          `json:"correctMarks"`
	WrongMarks      float64          `json:"wrongMarks"`
	MCQQuestions    []MCQQuestion    `json:"mcqQuestions"`
	CodingQuestions []CodingQuestion `json:"codingQuestions"`
}

// MCQQuestion is a single multiple-choice question with its stored answer letter.
type MCQQuestion struct {
	ID            uuid.UUID       `json:"id"`
	QuestionText  string          `json:"questionText"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correctOption"`
	OrderNum      int             `json:"orderNum"`
}

// CodingQuestion is a programming task judged by the external code-judging service.
type CodingQuestion struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Prompt   string    `json:"prompt"`
	Marks    float64   `json:"marks"`
	OrderNum int       `json:"orderNum"`
}

// Duration returns the section's time allowance.
func (s *Section) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// MaxScore is Σ correctMarks over MCQs plus Σ marks over coding questions.
func (s *Section) MaxScore() float64 {
	total := float64(len(s.MCQQuestions)) * s.CorrectMarks
	for _, q := range s.CodingQuestions {
		total += q.Marks
	}
	return total
}

// HasMCQ reports whether questionID is a multiple-choice question of this section.
func (s *Section) HasMCQ(questionID uuid.UUID) bool {
	for _, q := range s.MCQQuestions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

// SectionCount returns the number of ordered sections.
func (t *Test) SectionCount() int {
	return len(t.Sections)
}

// Section returns the section at index, if any.
func (t *Test) Section(index int) (*Section, bool) {
	if index < 0 || index >= len(t.Sections) {
		return nil, false
	}
	return &t.Sections[index], true
}

// IsLastSection reports whether index is the final section.
func (t *Test) IsLastSection(index int) bool {
	return index == len(t.Sections)-1
}

// MaxScore sums the max score of every section.
func (t *Test) MaxScore() float64 {
	var total float64
	for i := range t.Sections {
		total += t.Sections[i].MaxScore()
	}
	return total
}

// TotalDuration sums every section's duration.
func (t *Test) TotalDuration() time.Duration {
	var total time.Duration
	for i := range t.Sections {
		total += t.Sections[i].Duration()
	}
	return total
}

// SectionForStudent is a section without correct answers, sent to students.
type SectionForStudent struct {
	Index           int                `json:"index"`
	Title           string             `json:"title"`
	Kind            SectionKind        `json:"kind"`
	DurationMinutes int                `json:"durationMinutes"`
	MCQQuestions    []MCQForStudent    `json:"mcqQuestions"`
	CodingQuestions []CodingForStudent `json:"codingQuestions"`
}

// MCQForStudent is a question without the correct answer.
type MCQForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"questionText"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"orderNum"`
}

// CodingForStudent is a coding task as shown to students.
type CodingForStudent struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Prompt   string    `json:"prompt"`
	Marks    float64   `json:"marks"`
	OrderNum int       `json:"orderNum"`
}

// ForStudent strips answer keys from the section.
func (s *Section) ForStudent() *SectionForStudent {
	view := &SectionForStudent{
		Index:           s.Index,
		Title:           s.Title,
		Kind:            s.Kind,
		DurationMinutes: s.DurationMinutes,
		MCQQuestions:    make([]MCQForStudent, len(s.MCQQuestions)),
		CodingQuestions: make([]CodingForStudent, len(s.CodingQuestions)),
	}
	for i, q := range s.MCQQuestions {
		view.MCQQuestions[i] = MCQForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			Options:      q.Options,
			OrderNum:     q.OrderNum,
		}
	}
	for i, q := range s.CodingQuestions {
		view.CodingQuestions[i] = CodingForStudent(q)
	}
	return view
}
