package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:     "header mismatch",
			err:      fmt.Errorf("%w (map items-v1): column 3", ErrHeaderMismatch),
			wantCode: "VAL001",
		},
		{
			name:     "validation rejected",
			err:      &ValidationRejectedError{Report: newValidationReport()},
			wantCode: "VAL002",
		},
		{
			name:        "writer busy",
			err:         ErrWriterBusy,
			wantCode:    "STG001",
			wantMessage: "Another import is writing to staging",
		},
		{
			name:     "duplicate staging key inside reconciliation error",
			err:      &ReconciliationError{Op: "check staging keys", Err: ErrDuplicateStagingKey},
			wantCode: "STG002",
		},
		{
			name:     "session not found",
			err:      fmt.Errorf("%w: abc", ErrSessionNotFound),
			wantCode: "STG003",
		},
		{
			name:     "invalid transition",
			err:      &TransitionError{From: PhaseIdle, To: PhaseApplying},
			wantCode: "STG004",
		},
		{
			name:     "reconciliation infrastructure failure",
			err:      &ReconciliationError{Op: "find new records", Err: errors.New("boom")},
			wantCode: "STG007",
		},
		{
			name:     "empty selection",
			err:      ErrEmptySelection,
			wantCode: "APL001",
		},
		{
			name:     "stale change wins over apply error",
			err:      &ApplyError{ID: "NEW\x1fA1\x1f", Err: ErrStaleChange},
			wantCode: "APL004",
		},
		{
			name:     "apply error with database failure",
			err:      &ApplyError{ID: "NEW\x1fA1\x1f", Err: errors.New("disk full")},
			wantCode: "APL005",
		},
		{
			name:        "postgres unique violation by code",
			err:         fmt.Errorf("insert batch: %w", &pgconn.PgError{Code: "23505", Message: "dup"}),
			wantCode:    "DB001",
			wantMessage: "A record with this item code already exists",
		},
		{
			name:     "postgres value too long by code",
			err:      &pgconn.PgError{Code: "22001"},
			wantCode: "DB008",
		},
		{
			name:     "connection refused by pattern",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: "DB004",
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			wantCode: "DB006",
		},
		{
			name:     "file too large",
			err:      errors.New("file too large: 60MB exceeds limit"),
			wantCode: "FILE001",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DUPLICATE KEY value violates"),
			wantCode: "DB001",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrEmptySelection)

	expected := "No changes were selected (Code: APL001). Select at least one change to apply"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "sentinel is user facing", err: ErrWriterBusy, want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := &ApplyError{ID: "DELETED\x1fC3\x1f", Err: ErrStaleChange}
		userErr := NewUserError(techErr)

		if userErr.User.Code != "APL004" {
			t.Errorf("Code = %q, want APL004", userErr.User.Code)
		}
		if !errors.Is(userErr, ErrStaleChange) {
			t.Error("Unwrap() should reach the original error")
		}
	})
}

func TestApplyErrorMessageNamesChange(t *testing.T) {
	err := &ApplyError{ID: EncodeChangeID(ChangeModified, "B2", "description1"), Err: errors.New("boom")}
	if got, want := err.Error(), "apply MODIFIED B2 description1: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
