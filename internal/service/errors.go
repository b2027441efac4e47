package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

var (
	ErrTestNotFound            = errors.New("test not found")
	ErrStudentNotFound         = errors.New("student not found")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSectionNotFound         = errors.New("section not found")
	ErrSectionAlreadySubmitted = errors.New("section already submitted")
	ErrSectionOutOfRange       = errors.New("section is not the current section")
	ErrSectionExpired          = errors.New("section time has expired")
	ErrSessionNotActive        = errors.New("session is not active")
	ErrSessionNotCompleted     = errors.New("session is not completed yet")
	ErrQuestionNotInSection    = errors.New("question does not belong to the current section")
	// ErrSaveVerificationFailed means the completed session read back with
	// different score totals than were written.
	ErrSaveVerificationFailed = errors.New("session save verification failed")
)

// EligibilityError is returned by StartSession when the student may not start.
type EligibilityError struct {
	Reason        model.EligibilityReason
	Message       string
	Boundary      *time.Time
	SessionStatus *model.SessionStatus
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func newEligibilityError(d *model.EligibilityDecision) *EligibilityError {
	return &EligibilityError{
		Reason:        *d.Reason,
		Message:       d.Message,
		Boundary:      d.Boundary,
		SessionStatus: d.SessionStatus,
	}
}
