package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrForbidden     ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrTestNotFound    ErrCode = "TEST_NOT_FOUND"
	ErrStudentNotFound ErrCode = "STUDENT_NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrSectionNotFound ErrCode = "SECTION_NOT_FOUND"

	// ─── Eligibility ───────────────────────────────────────────────────
	ErrTestNotStarted     ErrCode = "TEST_NOT_STARTED"
	ErrStartWindowExpired ErrCode = "START_WINDOW_EXPIRED"
	ErrTestExpired        ErrCode = "TEST_EXPIRED"
	ErrAlreadyAttempted   ErrCode = "ALREADY_ATTEMPTED"
	ErrAlreadyCompleted   ErrCode = "ALREADY_COMPLETED"

	// ─── Session state ─────────────────────────────────────────────────
	ErrSectionAlreadySubmitted ErrCode = "SECTION_ALREADY_SUBMITTED"
	ErrSectionExpired          ErrCode = "SECTION_EXPIRED"
	ErrSessionNotActive        ErrCode = "SESSION_NOT_ACTIVE"
	ErrSessionNotCompleted     ErrCode = "SESSION_NOT_COMPLETED"
	ErrQuestionNotInSection    ErrCode = "QUESTION_NOT_IN_SECTION"

	// ─── Server ────────────────────────────────────────────────────────
	ErrSaveVerificationFailed ErrCode = "SAVE_VERIFICATION_FAILED"
	ErrInternal               ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrForbidden:
		return "You are not allowed to access this session."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "The request contains invalid fields."
	case ErrInvalidID:
		return "The identifier format is invalid."
	case ErrInvalidPayload:
		return "The request body could not be read."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."
	case ErrTestNotFound:
		return "The test was not found."
	case ErrStudentNotFound:
		return "The student was not found."
	case ErrSessionNotFound:
		return "No session exists for this test and student."
	case ErrSectionNotFound:
		return "The section was not found."

	// ─── Eligibility ───────────────────────────────────────────────────
	case ErrTestNotStarted:
		return "This test has not started yet."
	case ErrStartWindowExpired:
		return "The start window for this test has closed."
	case ErrTestExpired:
		return "This test has ended."
	case ErrAlreadyAttempted:
		return "This account has already used its single permitted attempt. The restriction is permanent."
	case ErrAlreadyCompleted:
		return "You have already completed this test."

	// ─── Session state ─────────────────────────────────────────────────
	case ErrSectionAlreadySubmitted:
		return "This section has already been submitted."
	case ErrSectionExpired:
		return "Time for this section has run out."
	case ErrSessionNotActive:
		return "The session is not accepting answers right now."
	case ErrSessionNotCompleted:
		return "Results are available once the test is completed."
	case ErrQuestionNotInSection:
		return "The question is not part of the current section."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrSaveVerificationFailed:
		return "Your result could not be verified after saving. Please contact the proctor."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unknown error occurred."
	}
}
