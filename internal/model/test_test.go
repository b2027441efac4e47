package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleTest() *Test {
	return &Test{
		ID: uuid.New(),
		Sections: []Section{
			{
				Index:           0,
				DurationMinutes: 1,
				CorrectMarks:    1.5,
				WrongMarks:      0.5,
				MCQQuestions: []MCQQuestion{
					{ID: uuid.New(), CorrectOption: "A"},
					{ID: uuid.New(), CorrectOption: "D"},
				},
			},
			{
				Index:           1,
				DurationMinutes: 2,
				CodingQuestions: []CodingQuestion{{ID: uuid.New(), Marks: 5}, {ID: uuid.New(), Marks: 2.5}},
			},
		},
	}
}

func TestTest_Totals(t *testing.T) {
	tt := sampleTest()

	if got := tt.Sections[0].MaxScore(); got != 3 {
		t.Errorf("MCQ section max = %v, want 3", got)
	}
	if got := tt.Sections[1].MaxScore(); got != 7.5 {
		t.Errorf("coding section max = %v, want 7.5", got)
	}
	if got := tt.MaxScore(); got != 10.5 {
		t.Errorf("test max = %v, want 10.5", got)
	}
	if got := tt.TotalDuration(); got != 3*time.Minute {
		t.Errorf("total duration = %v, want 3m", got)
	}
}

func TestTest_Section(t *testing.T) {
	tt := sampleTest()

	for _, idx := range []int{-1, 2} {
		if _, ok := tt.Section(idx); ok {
			t.Errorf("Section(%d) found", idx)
		}
	}
	if s, ok := tt.Section(1); !ok || s.Index != 1 {
		t.Errorf("Section(1) = %+v, %v", s, ok)
	}
	if tt.IsLastSection(0) || !tt.IsLastSection(1) {
		t.Error("IsLastSection wrong")
	}
	if !tt.Sections[0].HasMCQ(tt.Sections[0].MCQQuestions[1].ID) || tt.Sections[1].HasMCQ(tt.Sections[1].CodingQuestions[0].ID) {
		t.Error("HasMCQ wrong")
	}
}

func TestSection_ForStudentHidesAnswers(t *testing.T) {
	tt := sampleTest()
	view := tt.Sections[0].ForStudent()

	if len(view.MCQQuestions) != 2 || view.MCQQuestions[0].ID != tt.Sections[0].MCQQuestions[0].ID {
		t.Fatalf("view = %+v", view)
	}
	raw, _ := json.Marshal(view)
	if strings.Contains(string(raw), "correctOption") || strings.Contains(string(raw), "wrongMarks") {
		t.Errorf("student view leaks scoring data: %s", raw)
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	end := time.Now()
	s := &Session{CompletedSectionIndices: []int{0}, SectionEndTime: &end}
	c := s.Clone()

	c.CompletedSectionIndices[0] = 9
	*c.SectionEndTime = end.Add(time.Hour)

	if s.CompletedSectionIndices[0] != 0 || !s.SectionEndTime.Equal(end) {
		t.Error("clone aliases the original")
	}
}

func TestSession_SectionExpired(t *testing.T) {
	end := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{SectionEndTime: &end}

	if s.SectionExpired(end.Add(-time.Nanosecond)) {
		t.Error("expired before the deadline")
	}
	if !s.SectionExpired(end) {
		t.Error("not expired at the deadline")
	}
	if (&Session{}).SectionExpired(end) {
		t.Error("session without a section deadline expired")
	}
}
