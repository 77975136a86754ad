package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Identity ──────────────────────────────────────────────────────
	ErrIdentityMissing ErrCode = "IDENTITY_MISSING"
	ErrUnauthorized    ErrCode = "UNAUTHORIZED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrInvalidState        ErrCode = "INVALID_STATE"
	ErrConfirmationMissing ErrCode = "CONFIRMATION_REQUIRED"
	ErrNoActiveViva        ErrCode = "NO_ACTIVE_VIVA"

	// ─── Upstream ──────────────────────────────────────────────────────
	ErrNotFound  ErrCode = "NOT_FOUND"
	ErrUpstream  ErrCode = "UPSTREAM_ERROR"
	ErrTransport ErrCode = "TRANSPORT_ERROR"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Identity ──────────────────────────────────────────────────────
	case ErrIdentityMissing:
		return "A user identity header is required for this request."
	case ErrUnauthorized:
		return "You are not authorized to access this resource."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionNotFound:
		return "No exam session found for this identifier."
	case ErrInvalidState:
		return "The session does not allow this operation in its current state."
	case ErrConfirmationMissing:
		return "Ending the exam requires explicit confirmation."
	case ErrNoActiveViva:
		return "No surprise viva is currently active for this session."

	// ─── Upstream ──────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."
	case ErrUpstream:
		return "The grading service returned an error."
	case ErrTransport:
		return "The grading service could not be reached."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
