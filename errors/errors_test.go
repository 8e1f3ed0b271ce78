package errors

import (
	"testing"
)

func TestSentinelIdentity(t *testing.T) {
	wrapped := Wrap(ErrNetwork, "fetching note")
	if !Is(wrapped, ErrNetwork) {
		t.Fatal("wrapped network error should still match ErrNetwork")
	}
	if Is(wrapped, ErrStorage) {
		t.Fatal("network error should not match ErrStorage")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", Wrap(ErrNetwork, "timeout"), true},
		{"deeply wrapped network", Wrap(Wrap(ErrNetwork, "dial"), "sync"), true},
		{"storage", Wrap(ErrStorage, "disk"), false},
		{"validation", ErrValidation, false},
		{"conflict", ErrConflict, false},
		{"plain", New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWrapStorageKeepsClassification(t *testing.T) {
	underlying := New("disk I/O error")
	err := WrapStorage(underlying, "put note")

	if !Is(err, ErrStorage) {
		t.Fatal("WrapStorage result should match ErrStorage")
	}
	if IsRetryable(err) {
		t.Fatal("storage errors are not retryable")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("note %s", "abc")
	if !IsNotFoundError(err) {
		t.Fatal("should match ErrNotFound")
	}
}

func TestIsQueueFull(t *testing.T) {
	if !IsQueueFull(Wrap(ErrQueueFull, "enqueue")) {
		t.Fatal("wrapped queue-full error should match")
	}
	if IsQueueFull(nil) {
		t.Fatal("nil is not queue-full")
	}
}
