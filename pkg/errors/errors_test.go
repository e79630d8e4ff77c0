package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidInput, "year %q is not an integer", "abc")

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidInput)
	}
	if err.Message != `year "abc" is not an integer` {
		t.Errorf("Message = %v", err.Message)
	}

	expected := `INVALID_INPUT: year "abc" is not an integer`
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrCodeBackend, cause, "fetch timeline")

	if err.Code != ErrCodeBackend {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeBackend)
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.Error() != "BACKEND_ERROR: fetch timeline: connection reset" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{"matching code", New(ErrCodeInvalidQuery, "x"), ErrCodeInvalidQuery, true},
		{"non-matching code", New(ErrCodeInvalidQuery, "x"), ErrCodeBackend, false},
		{"outermost code wins", Wrap(ErrCodeBackend, New(ErrCodeInvalidInput, "inner"), "outer"), ErrCodeBackend, true},
		{"wrapped by fmt", fmt.Errorf("layout: %w", New(ErrCodeInternal, "x")), ErrCodeInternal, true},
		{"plain error", errors.New("plain"), ErrCodeInvalidInput, false},
		{"nil error", nil, ErrCodeInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCodeAndUserMessage(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(ErrCodeNotFound, "entity %d", 7))
	if got := GetCode(err); got != ErrCodeNotFound {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeNotFound)
	}
	if got := UserMessage(err); got != "entity 7" {
		t.Errorf("UserMessage() = %q, want %q", got, "entity 7")
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %q, want empty", got)
	}
	if got := UserMessage(errors.New("plain")); got != "plain" {
		t.Errorf("UserMessage(plain) = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrCodeInvalidInput, "x"), 400},
		{New(ErrCodeInvalidQuery, "x"), 400},
		{New(ErrCodeNotFound, "x"), 404},
		{New(ErrCodeStaleResult, "x"), 409},
		{New(ErrCodeRateLimited, "x"), 429},
		{New(ErrCodeBackend, "x"), 502},
		{New(ErrCodeTimeout, "x"), 504},
		{errors.New("plain"), 500},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
