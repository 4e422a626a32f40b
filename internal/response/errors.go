package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrLearnerAccessOnly  ErrCode = "LEARNER_ACCESS_ONLY"
	ErrEducatorAccessOnly ErrCode = "EDUCATOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Proctoring ────────────────────────────────────────────────────
	ErrTestNotFound        ErrCode = "TEST_NOT_FOUND"
	ErrTestUnavailable     ErrCode = "TEST_UNAVAILABLE"
	ErrAlreadyPassed       ErrCode = "TEST_ALREADY_PASSED"
	ErrLearnerBlocked      ErrCode = "LEARNER_BLOCKED"
	ErrSessionActive       ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionNotRunning   ErrCode = "SESSION_NOT_RUNNING"
	ErrUnansweredQuestions ErrCode = "UNANSWERED_QUESTIONS"
	ErrCertificateMinted   ErrCode = "CERTIFICATE_MINTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"
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
	case ErrLearnerAccessOnly:
		return "This resource is restricted to learners."
	case ErrEducatorAccessOnly:
		return "This resource is restricted to educators."

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
	case ErrConflict:
		return "Resource already exists."

	// ─── Proctoring ────────────────────────────────────────────────────
	case ErrTestNotFound:
		return "Test not found."
	case ErrTestUnavailable:
		return "This test cannot be taken right now."
	case ErrAlreadyPassed:
		return "You have already passed this test."
	case ErrLearnerBlocked:
		return "You are blocked from taking tests in this course due to repeated violations."
	case ErrSessionActive:
		return "Another test session is already active for this account."
	case ErrSessionNotRunning:
		return "The test session is not running."
	case ErrUnansweredQuestions:
		return "Please answer all questions before submitting."
	case ErrCertificateMinted:
		return "Course progress already minted as an NFT and cannot be modified."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	case ErrBackendUnavailable:
		return "The violation backend is unavailable."
	default:
		return "An unexpected error occurred."
	}
}
