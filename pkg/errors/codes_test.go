package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFopError_Error(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "Startup", "invalid config file", nil)
	expected := "[1001] Startup: invalid config file"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	cause := errors.New("file not found")
	errWithCause := New(ErrCodeInputNotFound, "Generate", "XML file not found: a.xml", cause)
	expectedWithCause := "[4001] Generate: XML file not found: a.xml (cause: file not found)"
	if errWithCause.Error() != expectedWithCause {
		t.Errorf("Expected %q, got %q", expectedWithCause, errWithCause.Error())
	}
}

func TestFopError_Unwrap(t *testing.T) {
	cause := errors.New("broken pipe")
	err := New(ErrCodeProcessTerminated, "Submit", "engine exited", cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Expected cause %v, got %v", cause, errors.Unwrap(err))
	}

	errNoCause := New(ErrCodeNotReady, "Submit", "engine not ready", nil)
	if errors.Unwrap(errNoCause) != nil {
		t.Errorf("Expected nil cause, got %v", errors.Unwrap(errNoCause))
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(ErrCodeEngineFailure, "Generate", "boom", nil))

	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), ErrCodeUnknown},
		{"direct", New(ErrCodeNotReady, "op", "m", nil), ErrCodeNotReady},
		{"wrapped", wrapped, ErrCodeEngineFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf() = %v, want %v", got, tc.want)
			}
		})
	}

	if !Is(wrapped, ErrCodeEngineFailure) {
		t.Error("Is should see through wrapping")
	}
	if Is(nil, ErrCodeUnknown) {
		t.Error("Is(nil) must be false")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(New(ErrCodeEngineFailure, "Generate", "PDF generation failed: bad fo", nil)); got != "PDF generation failed: bad fo" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Message(errors.New("raw")); got != "raw" {
		t.Errorf("unexpected message %q", got)
	}
	if ErrCodeProtocolDecode.String() != "ProtocolDecodeError" {
		t.Errorf("unexpected name %q", ErrCodeProtocolDecode.String())
	}
}
