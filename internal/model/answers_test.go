package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewAnswerPayload(t *testing.T) {
	q := uuid.New()

	p, err := NewAnswerPayload(map[string]string{q.String(): " b "}, nil)
	if err != nil {
		t.Fatalf("NewAnswerPayload: %v", err)
	}
	if p.Version != AnswerPayloadVersion {
		t.Errorf("version = %d", p.Version)
	}
	if got, ok := p.Selected(q); !ok || got != "B" {
		t.Errorf("Selected = %q, %v; want B", got, ok)
	}

	if _, err := NewAnswerPayload(map[string]string{"q1": "A"}, nil); err == nil {
		t.Error("non-UUID key accepted")
	}
}

func TestDecodeAnswerPayload(t *testing.T) {
	q := uuid.New()
	p, _ := NewAnswerPayload(map[string]string{q.String(): "C"}, []CodingSubmissionRef{{QuestionID: uuid.New()}})
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name    string
		raw     []byte
		wantErr bool
		wantMCQ int
	}{
		{"current version", raw, false, 1},
		{"empty column", nil, false, 0},
		{"missing answers map", []byte(`{"version":1}`), false, 0},
		{"future version", []byte(`{"version":2,"mcqAnswers":{}}`), true, 0},
		{"unversioned", []byte(`{"mcqAnswers":{}}`), true, 0},
		{"garbage", []byte(`not json`), true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAnswerPayload(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.MCQAnswers == nil || len(got.MCQAnswers) != tt.wantMCQ {
				t.Errorf("mcqAnswers = %v, want %d entries", got.MCQAnswers, tt.wantMCQ)
			}
		})
	}
}

func TestSelected_Blank(t *testing.T) {
	q := uuid.New()
	p := EmptyAnswerPayload()
	p.MCQAnswers[q] = ""

	if _, ok := p.Selected(q); ok {
		t.Error("blank answer counted as selected")
	}
	var nilPayload *AnswerPayload
	if _, ok := nilPayload.Selected(q); ok {
		t.Error("nil payload reported a selection")
	}
}
