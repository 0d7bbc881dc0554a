package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient covers failures where retrying later may succeed,
	// such as a bus publish while the broker reconnects.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent covers failures a retry cannot fix: bad input,
	// missing capability, unknown command type.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource covers throttling.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal covers bugs and corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable reports whether errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies a specific failure. Codes are sent to clients in
// command results, so they are part of the wire protocol.
type ErrorCode string

const (
	// Transient
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // bus or peer unreachable
	ErrCodeNotActive   ErrorCode = "NOT_ACTIVE"  // device does not own the session
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // operation timed out

	// Permanent
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // malformed or out-of-range command
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"     // capability not granted
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"  // credentials missing or invalid
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"   // unknown command type
	ErrCodeCanceled     ErrorCode = "CANCELED"      // caller gave up

	// Resource
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC"
)

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category an error with this code gets unless
// overridden.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeUnavailable, ErrCodeNotActive, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeInvalidInput, ErrCodeForbidden, ErrCodeUnauthorized,
		ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent
	case ErrCodeRateLimit:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeUnavailable:  "service temporarily unavailable",
	ErrCodeNotActive:    "device is not the active controller",
	ErrCodeTimeout:      "operation timed out",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeForbidden:    "access denied",
	ErrCodeUnauthorized: "authentication required",
	ErrCodeUnsupported:  "operation not supported",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeRateLimit:    "rate limit exceeded",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
