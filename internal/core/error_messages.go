package core

// error_messages.go maps pipeline errors to user-facing messages with a
// stable code that users can quote to support.
//
// # Codes
//
//	DB001-DB099     Postgres constraint, data and connection errors
//	VAL001-VAL099   sheet validation and column map problems
//	FILE001-FILE099 file extraction problems
//	STG001-STG099   staging, reconciliation and session state
//	APL001-APL099   applying changes
//	ERR000          anything else; check the logs for the technical error
//
// Typed and sentinel errors are matched first with errors.Is/As, then
// Postgres error codes, then message patterns (case-insensitive substring,
// first match wins).

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorRule matches errors by identity or type.
type errorRule struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var t T
		return errors.As(err, &t)
	}
}

// errorRules is checked in order. Specific causes come before the wrapper
// types that carry them, so a stale change inside an *ApplyError maps to
// APL004 rather than APL005.
var errorRules = []errorRule{
	{is(ErrHeaderMismatch), UserMessage{
		Message: "The sheet's columns do not match the expected layout",
		Action:  "Compare the header row with the column map (itemctl columns) and re-export the sheet",
		Code:    "VAL001",
	}},
	{as[*ValidationRejectedError](), UserMessage{
		Message: "The sheet failed validation and nothing was staged",
		Action:  "Fix the rows listed in the validation report and upload again",
		Code:    "VAL002",
	}},
	{is(ErrInvalidColumnMap), UserMessage{
		Message: "The column map is invalid",
		Action:  "Check the column map file named by IMPORT_COLUMN_MAP",
		Code:    "VAL003",
	}},

	{is(ErrWriterBusy), UserMessage{
		Message: "Another import is writing to staging",
		Action:  "Wait for it to finish and try again",
		Code:    "STG001",
	}},
	{is(ErrDuplicateStagingKey), UserMessage{
		Message: "Staging holds the same item more than once",
		Action:  "Clear staging and stage the sheet again",
		Code:    "STG002",
	}},
	{is(ErrSessionNotFound), UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Start a new import",
		Code:    "STG003",
	}},
	{is(ErrInvalidTransition), UserMessage{
		Message: "That step is not available at this point of the import",
		Action:  "Check the session state and follow validate, stage, diff, apply in order",
		Code:    "STG004",
	}},
	{is(ErrSessionBusy), UserMessage{
		Message: "The import session is still working",
		Action:  "Wait for the current step to finish",
		Code:    "STG005",
	}},
	{is(ErrNoStageRun), UserMessage{
		Message: "This session has not staged a file",
		Action:  "Stage a file first",
		Code:    "STG006",
	}},
	{as[*ReconciliationError](), UserMessage{
		Message: "Staging could not be compared with production",
		Action:  "Please try again; if it persists check the database logs",
		Code:    "STG007",
	}},

	{is(ErrEmptySelection), UserMessage{
		Message: "No changes were selected",
		Action:  "Select at least one change to apply",
		Code:    "APL001",
	}},
	{is(ErrInvalidDiffID), UserMessage{
		Message: "A selected change ID is not valid",
		Action:  "Reload the diff and select the changes again",
		Code:    "APL002",
	}},
	{is(ErrFieldNotComparable), UserMessage{
		Message: "A selected change names a field that cannot be updated",
		Action:  "Reload the diff and select the changes again",
		Code:    "APL003",
	}},
	{is(ErrStaleChange), UserMessage{
		Message: "A selected change no longer matches staging and production; nothing was applied",
		Action:  "Run the diff again and reselect the changes",
		Code:    "APL004",
	}},
	{as[*ApplyError](), UserMessage{
		Message: "The changes could not be applied; nothing was changed",
		Action:  "See the error detail for the failing change, fix the data and try again",
		Code:    "APL005",
	}},
}

// pgErrorCodes maps Postgres SQLSTATE codes to messages.
var pgErrorCodes = map[string]UserMessage{
	"23505": {
		Message: "A record with this item code already exists",
		Action:  "Review the sheet for items that are already in production",
		Code:    "DB001",
	},
	"23502": {
		Message: "A required database column is empty",
		Action:  "Ensure all required columns have values",
		Code:    "DB002",
	},
	"22001": {
		Message: "A value is longer than its database column allows",
		Action:  "Shorten the value or widen the column",
		Code:    "DB008",
	},
	"22P02": {
		Message: "A value has the wrong format for its database column",
		Action:  "Check numeric columns for stray text",
		Code:    "DB009",
	},
	"22003": {
		Message: "A number is out of range for its database column",
		Action:  "Check numeric columns for oversized values",
		Code:    "DB009",
	},
	"40P01": {
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// The first matching pattern wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this item code already exists",
		Action:  "Review the sheet for items that are already in production",
		Code:    "DB001",
	}},
	{"violates not-null", UserMessage{
		Message: "A required database column is empty",
		Action:  "Ensure all required columns have values",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"value too long", UserMessage{
		Message: "A value is longer than its database column allows",
		Action:  "Shorten the value or widen the column",
		Code:    "DB008",
	}},
	{"invalid input syntax", UserMessage{
		Message: "A value has the wrong format for its database column",
		Action:  "Check numeric columns for stray text",
		Code:    "DB009",
	}},

	{"file too large", UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller sheets",
		Code:    "FILE001",
	}},
	{"invalid csv", UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Ensure the file is comma-separated with consistent columns",
		Code:    "FILE002",
	}},
	{"encoding error", UserMessage{
		Message: "File contains invalid characters",
		Action:  "Save the file as UTF-8",
		Code:    "FILE003",
	}},
	{"no file provided", UserMessage{
		Message: "No file was provided",
		Action:  "Attach a CSV file",
		Code:    "FILE004",
	}},
	{"empty file", UserMessage{
		Message: "The file is empty",
		Action:  "Provide a CSV file with data rows",
		Code:    "FILE005",
	}},

	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "STG008",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&ApplyError{ID: id, Err: ErrStaleChange})
//	// msg.Code == "APL004"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, r := range errorRules {
		if r.match(err) {
			return r.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := pgErrorCodes[pgErr.Code]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError wraps err with its mapped user message. Returns nil if err
// is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
