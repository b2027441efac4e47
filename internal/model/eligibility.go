package model

import "time"

// EligibilityReason names why a student may not start a test.
type EligibilityReason string

const (
	ReasonTestNotStarted     EligibilityReason = "TEST_NOT_STARTED"
	ReasonStartWindowExpired EligibilityReason = "START_WINDOW_EXPIRED"
	ReasonTestExpired        EligibilityReason = "TEST_EXPIRED"
	ReasonAlreadyAttempted   EligibilityReason = "ALREADY_ATTEMPTED"
	ReasonAlreadyCompleted   EligibilityReason = "ALREADY_COMPLETED"
)

// EligibilityDecision is computed fresh on every call and never persisted.
type EligibilityDecision struct {
	CanTakeTest   bool               `json:"canTakeTest"`
	Resume        bool               `json:"resume,omitempty"`
	Reason        *EligibilityReason `json:"reason,omitempty"`
	Message       string             `json:"message,omitempty"`
	Boundary      *time.Time         `json:"boundary,omitempty"`
	SessionStatus *SessionStatus     `json:"sessionStatus,omitempty"`
	AccountKind   AccountKind        `json:"accountKind,omitempty"`
}
