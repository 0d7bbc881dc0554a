package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds context to err while keeping the chain intact.
// A structured error keeps its code and category; context errors map to
// TIMEOUT or CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		wrapped := &Error{
			code:      se.code,
			category:  se.category,
			message:   message,
			cause:     err,
			metadata:  se.Metadata(),
			retryable: se.retryable,
			timestamp: se.timestamp,
			deviceID:  se.deviceID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under a specific code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// As extracts the first structured error from err's chain, or nil.
func As(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether err's chain carries the given code.
func Is(err error, code ErrorCode) bool {
	if se := As(err); se != nil {
		return se.code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable structured error.
// Plain errors are not retryable.
func IsRetryable(err error) bool {
	if se := As(err); se != nil {
		return se.Retryable()
	}
	return false
}

// Code extracts the error code. Plain errors report INTERNAL; nil reports "".
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if se := As(err); se != nil {
		return se.code
	}
	return ErrCodeInternal
}

// Join combines errors, dropping nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
