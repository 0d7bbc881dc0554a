package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"invalid_input", ErrCodeInvalidInput, CategoryPermanent, false},
		{"not_active", ErrCodeNotActive, CategoryTransient, true},
		{"forbidden", ErrCodeForbidden, CategoryPermanent, false},
		{"rate_limit", ErrCodeRateLimit, CategoryResource, true},
		{"internal", ErrCodeInternal, CategoryInternal, false},
		{"unknown", ErrorCode("BOGUS"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestNotActive(t *testing.T) {
	err := NotActive("backup-1")
	if err.DeviceID() != "backup-1" {
		t.Errorf("DeviceID() = %q, want %q", err.DeviceID(), "backup-1")
	}
	if err.Error() != "device backup-1 is not active" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeRateLimit)
	if err.Error() != "rate limit exceeded" {
		t.Errorf("Error() = %q, want %q", err.Error(), "rate limit exceeded")
	}
	if d := ErrorCode("nope").Description(); d != "unknown error" {
		t.Errorf("Description() = %q", d)
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := InvalidInput("bad", WithRetryable(true))
	if !err.Retryable() {
		t.Error("explicit retryable should override category")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := Forbidden("no", WithMetadata("capability", "control-slides"))
	md := err.Metadata()
	md["capability"] = "changed"
	if err.Metadata()["capability"] != "control-slides" {
		t.Error("Metadata() must return a copy")
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if Wrap(nil, "x") != nil {
			t.Error("Wrap(nil) should be nil")
		}
	})

	t.Run("structured keeps code", func(t *testing.T) {
		inner := InvalidInput("slide out of range", WithMetadata("slide", "31"))
		w := Wrap(inner, "apply slide_control")
		if w.Code() != ErrCodeInvalidInput {
			t.Errorf("Code() = %v, want %v", w.Code(), ErrCodeInvalidInput)
		}
		if w.Metadata()["slide"] != "31" {
			t.Error("metadata should be preserved")
		}
		if !errors.Is(w, inner) {
			t.Error("chain should contain inner error")
		}
	})

	t.Run("context errors", func(t *testing.T) {
		if c := Wrap(context.DeadlineExceeded, "x").Code(); c != ErrCodeTimeout {
			t.Errorf("deadline code = %v", c)
		}
		if c := Wrap(context.Canceled, "x").Code(); c != ErrCodeCanceled {
			t.Errorf("canceled code = %v", c)
		}
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		w := Wrap(fmt.Errorf("boom"), "x")
		if w.Code() != ErrCodeInternal {
			t.Errorf("Code() = %v", w.Code())
		}
		if w.Error() != "x: boom" {
			t.Errorf("Error() = %q", w.Error())
		}
	})
}

func TestCodeAndIs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", RateLimited("slow down"))
	if !Is(wrapped, ErrCodeRateLimit) {
		t.Error("Is should find code through fmt wrapping")
	}
	if Code(wrapped) != ErrCodeRateLimit {
		t.Errorf("Code() = %v", Code(wrapped))
	}
	if Code(fmt.Errorf("plain")) != ErrCodeInternal {
		t.Error("plain errors should report INTERNAL")
	}
	if Code(nil) != "" {
		t.Error("nil should report empty code")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := New(ErrCodeForbidden, "missing capability",
		WithMetadata("capability", "control-role"),
		WithDeviceID("main-1"),
		WithCause(fmt.Errorf("viewer token")))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Code() != orig.Code() || got.Category() != orig.Category() {
		t.Errorf("got %v/%v, want %v/%v", got.Code(), got.Category(), orig.Code(), orig.Category())
	}
	if got.DeviceID() != "main-1" {
		t.Errorf("DeviceID() = %q", got.DeviceID())
	}
	if got.Error() != orig.Error() {
		t.Errorf("Error() = %q, want %q", got.Error(), orig.Error())
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("nil panic should give nil")
	}
	err := RecoverPanic("bad state")
	if err.Code() != ErrCodePanic || err.Message() != "bad state" {
		t.Errorf("got %v %q", err.Code(), err.Message())
	}
}
