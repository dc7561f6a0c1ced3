package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppErrorUnwrap(t *testing.T) {
	inner := errors.New("db offline")
	wrapped := ErrInternalServer.WithInternal(inner)

	if !errors.Is(wrapped, inner) {
		t.Fatal("expected errors.Is to find the internal error")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("expected errors.As to recover the AppError")
	}
	if appErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", appErr.StatusCode)
	}
}

func TestWithDetailsCopies(t *testing.T) {
	detailed := ErrResendCooldown.WithDetails(map[string]any{"remaining_seconds": 42})

	if ErrResendCooldown.Details != nil {
		t.Fatal("expected the shared sentinel to stay untouched")
	}
	if detailed.Details["remaining_seconds"] != 42 {
		t.Fatalf("unexpected details: %v", detailed.Details)
	}
	if detailed.Code != ErrResendCooldown.Code {
		t.Fatal("expected code to carry over")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Fatal("expected nil for nil input")
	}

	plain := errors.New("boom")
	converted := FromError(plain)
	if converted.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server fallback, got %s", converted.Code)
	}
	if !errors.Is(converted, plain) {
		t.Fatal("expected the original error to be retained")
	}

	if got := FromError(ErrCodeExpired); got != ErrCodeExpired {
		t.Fatal("expected AppError passthrough")
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(errors.New("io"), "reading config")
	if err.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
	if err.Error() != "reading config: io" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
