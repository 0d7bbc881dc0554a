// Package errors defines the structured errors podium devices report.
//
// Every rejected command carries one of these codes back to the client that
// issued it, so the code set doubles as the client-facing outcome vocabulary:
//
//   - INVALID_INPUT: malformed or out-of-range command
//   - NOT_ACTIVE: the device does not currently own the session
//   - FORBIDDEN: the connection lacks the capability
//   - RATE_LIMITED: the client is sending commands too fast
//   - UNSUPPORTED: unknown command type
//
// Create an error:
//
//	err := errors.InvalidInput("slide 31 out of range [1, 30]")
//
// Wrap one with context:
//
//	wrapped := errors.Wrap(err, "apply slide_control")
//
// Errors serialize to JSON with code, category, message and retryable.
package errors
