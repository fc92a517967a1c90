package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrTestNotAvailable        ErrCode = "TEST_NOT_AVAILABLE"
	ErrAttemptAlreadyCompleted ErrCode = "ATTEMPT_ALREADY_COMPLETED"
	ErrAttemptNotActive        ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptNotCompleted     ErrCode = "ATTEMPT_NOT_COMPLETED"
	ErrInvalidAnswerTarget     ErrCode = "INVALID_ANSWER_TARGET"
	ErrInvalidGrade            ErrCode = "INVALID_GRADE"
	ErrConcurrentModification  ErrCode = "CONCURRENT_MODIFICATION"
	ErrConfiguration           ErrCode = "CONFIGURATION_ERROR"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have access to this resource."
	case ErrPermissionDenied:
		return "Permission denied."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrStaffAccessOnly:
		return "This resource is restricted to staff."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrTestNotAvailable:
		return "This test is not currently available."
	case ErrAttemptAlreadyCompleted, ErrAttemptNotActive:
		return "This test has already been submitted."
	case ErrAttemptNotCompleted:
		return "This attempt has not been completed yet."
	case ErrInvalidAnswerTarget:
		return "This question is not part of the attempt."
	case ErrInvalidGrade:
		return "Marks must be between zero and the question's maximum."
	case ErrConcurrentModification:
		return "The attempt was changed by another request. Please reload and try again."
	case ErrConfiguration:
		return "This test is misconfigured. Please contact the test administrator."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Cannot continue right now. Please try again."
	default:
		return "An unexpected error occurred."
	}
}
