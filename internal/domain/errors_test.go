package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTrackingErrorIs(t *testing.T) {
	err := NewError(KindTooManyCheckIns, "max %d, attempted %d", 2, 3)

	if !errors.Is(err, ErrTooManyCheckIns) {
		t.Error("Expected error to match ErrTooManyCheckIns")
	}
	if errors.Is(err, ErrInvalidTaskOperation) {
		t.Error("Expected error not to match ErrInvalidTaskOperation")
	}

	wrapped := fmt.Errorf("checking in task: %w", err)
	if !errors.Is(wrapped, ErrTooManyCheckIns) {
		t.Error("Expected wrapped error to match ErrTooManyCheckIns")
	}
	if KindOf(wrapped) != KindTooManyCheckIns {
		t.Errorf("Expected kind %s, got %s", KindTooManyCheckIns, KindOf(wrapped))
	}
}

func TestTrackingErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *TrackingError
		expected string
	}{
		{
			name:     "Kind only",
			err:      &TrackingError{Kind: KindInvalidStateStatus},
			expected: "InvalidStateStatus",
		},
		{
			name:     "With message",
			err:      NewError(KindInvalidStateStatus, "unknown status %q", "done"),
			expected: `InvalidStateStatus: unknown status "done"`,
		},
		{
			name:     "With cause",
			err:      WrapError(KindInvalidStateDefinition, errors.New("connection reset"), "creating state %s", "sequencing"),
			expected: "InvalidStateDefinition: creating state sequencing: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestWrapErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindCreateFailed, cause, "creating checkin")

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable")
	}
	if KindOf(cause) != "" {
		t.Error("Expected plain error to have no kind")
	}
}
