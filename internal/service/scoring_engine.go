package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// SectionResult is the scored outcome of one section.
type SectionResult struct {
	Score         float64
	MaxScore      float64
	CodingResults []model.CodingResult
}

// ScoringEngine turns a section's answers into a score.
type ScoringEngine struct {
	judge JudgeLookup
	log   zerolog.Logger
}

// NewScoringEngine creates a new ScoringEngine.
func NewScoringEngine(judge JudgeLookup, log zerolog.Logger) *ScoringEngine {
	return &ScoringEngine{
		judge: judge,
		log:   log.With().Str("component", "scoring_engine").Logger(),
	}
}

// ScoreSection scores MCQs against the stored answer letters and coding
// questions against the latest judged submission. WrongMarks is not applied.
func (e *ScoringEngine) ScoreSection(ctx context.Context, testID uuid.UUID, studentID string, section *model.Section, answers *model.AnswerPayload) SectionResult {
	res := SectionResult{MaxScore: section.MaxScore()}

	for _, q := range section.MCQQuestions {
		selected, ok := answers.Selected(q.ID)
		if ok && selected == model.NormalizeOption(q.CorrectOption) {
			res.Score += section.CorrectMarks
		}
	}

	res.CodingResults = make([]model.CodingResult, 0, len(section.CodingQuestions))
	for _, q := range section.CodingQuestions {
		cr := model.CodingResult{QuestionID: q.ID, MaxScore: q.Marks}

		judged, err := e.judge.LatestResult(ctx, studentID, testID, q.ID)
		if err != nil {
			// A judging outage scores zero rather than failing the submit.
			e.log.Warn().Err(err).
				Str("student_id", studentID).
				Str("question_id", q.ID.String()).
				Msg("Judge lookup failed, scoring zero")
		} else if judged != nil {
			id := judged.SubmissionID
			cr.SubmissionID = &id
			cr.Score = clamp(judged.Score, 0, q.Marks)
			cr.TestCasesPassed = judged.TestCasesPassed
			cr.TotalTestCases = judged.TotalTestCases
		}

		res.Score += cr.Score
		res.CodingResults = append(res.CodingResults, cr)
	}

	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
