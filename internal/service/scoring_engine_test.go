package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
)

func TestScoreSection_MCQ(t *testing.T) {
	test, mcq1, mcq2, _ := twoSectionTest()
	section := &test.Sections[0]
	engine := NewScoringEngine(&fakeJudge{}, zerolog.Nop())

	tests := []struct {
		name    string
		answers map[uuid.UUID]string
		want    float64
	}{
		{"no answers", nil, 0},
		{"all correct", map[uuid.UUID]string{mcq1: "B", mcq2: "A"}, 2},
		{"stored key is lower case", map[uuid.UUID]string{mcq2: "A"}, 1},
		// Wrong answers cost nothing even though wrongMarks is set.
		{"wrong answers are not penalised", map[uuid.UUID]string{mcq1: "A", mcq2: "B"}, 0},
		{"blank answer", map[uuid.UUID]string{mcq1: ""}, 0},
		{"unknown question ignored", map[uuid.UUID]string{uuid.New(): "B"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := model.EmptyAnswerPayload()
			for k, v := range tt.answers {
				payload.MCQAnswers[k] = v
			}
			res := engine.ScoreSection(context.Background(), test.ID, "std-1", section, payload)
			if res.Score != tt.want {
				t.Errorf("score = %v, want %v", res.Score, tt.want)
			}
			if res.MaxScore != 2 {
				t.Errorf("max = %v, want 2", res.MaxScore)
			}
			if res.Score < 0 || res.Score > res.MaxScore {
				t.Errorf("score %v outside [0, %v]", res.Score, res.MaxScore)
			}
		})
	}
}

func TestScoreSection_Coding(t *testing.T) {
	test, _, _, coding1 := twoSectionTest()
	section := &test.Sections[1]
	subID := uuid.New()

	tests := []struct {
		name      string
		judge     *fakeJudge
		want      float64
		wantSubID bool
	}{
		{"never judged", &fakeJudge{}, 0, false},
		{
			name: "partial credit",
			judge: &fakeJudge{results: map[uuid.UUID]*model.JudgeResult{
				coding1: {SubmissionID: subID, QuestionID: coding1, Score: 3.5, TestCasesPassed: 7, TotalTestCases: 10},
			}},
			want:      3.5,
			wantSubID: true,
		},
		{
			name: "clamped to marks",
			judge: &fakeJudge{results: map[uuid.UUID]*model.JudgeResult{
				coding1: {SubmissionID: subID, QuestionID: coding1, Score: 12},
			}},
			want:      5,
			wantSubID: true,
		},
		{
			name: "negative judge score clamped to zero",
			judge: &fakeJudge{results: map[uuid.UUID]*model.JudgeResult{
				coding1: {SubmissionID: subID, QuestionID: coding1, Score: -2},
			}},
			want:      0,
			wantSubID: true,
		},
		{"judge outage scores zero", &fakeJudge{err: errBoom}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewScoringEngine(tt.judge, zerolog.Nop())
			res := engine.ScoreSection(context.Background(), test.ID, "std-1", section, model.EmptyAnswerPayload())

			if res.Score != tt.want || res.MaxScore != 5 {
				t.Errorf("scored %v/%v, want %v/5", res.Score, res.MaxScore, tt.want)
			}
			if len(res.CodingResults) != 1 {
				t.Fatalf("got %d coding results, want 1", len(res.CodingResults))
			}
			if got := res.CodingResults[0].SubmissionID != nil; got != tt.wantSubID {
				t.Errorf("submission id present = %v, want %v", got, tt.wantSubID)
			}
		})
	}
}
