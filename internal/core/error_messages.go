package core

// error_messages.go maps extraction errors to user messages with codes
// for support reference. Typed errors are matched first; storage errors
// are then matched on their driver text.
//
// # Format Errors (FMT001-FMT099)
//
//	FMT001 - Unknown format: the format code or version is not registered
//	FMT002 - Unknown sheet: the sheet is not declared by the format
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid filter: a filter constraint is malformed
//	VAL002 - Product not found: no product matches the product filter
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run not found: unknown or already released run id
//	RUN002 - Run released: the run's staging data was dropped
//	RUN003 - Run not ready: the run is still building
//	RUN004 - System busy: all pipeline slots are taken
//	RUN005 - Cancelled: the run was cancelled or timed out
//	RUN006 - Duplicate sheet: a sheet was built twice
//
// # Staging Errors (STG001-STG099)
//
//	STG001 - Staging failure: a sheet could not be built
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Relation missing: a source relation does not exist
//	DB004 - Timeout
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// typedMessage matches an error by inspection rather than text.
type typedMessage struct {
	match func(error) bool
	msg   UserMessage
}

func as[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// typedMessages are checked in order; the first match wins. Causes are
// checked before wrappers so a StorageError caused by a timeout maps to
// the timeout.
var typedMessages = []typedMessage{
	{
		match: as[*UnknownFormatError],
		msg: UserMessage{
			Message: "Unknown extraction format",
			Action:  "List the available formats and check the code and version",
			Code:    "FMT001",
		},
	},
	{
		match: as[*UnknownSheetError],
		msg: UserMessage{
			Message: "Sheet is not part of this format",
			Action:  "Check the sheet names of the format",
			Code:    "FMT002",
		},
	},
	{
		match: as[*ValidationError],
		msg: UserMessage{
			Message: "Invalid extraction filter",
			Action:  "Check dates are in order and id lists are not empty",
			Code:    "VAL001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrProductNotFound) },
		msg: UserMessage{
			Message: "No product matches the filter",
			Action:  "Check the product label, category and status",
			Code:    "VAL002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrRunNotFound) },
		msg: UserMessage{
			Message: "Extraction not found",
			Action:  "The extraction may have expired. Please run it again",
			Code:    "RUN001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrRunReleased) },
		msg: UserMessage{
			Message: "Extraction was released",
			Action:  "Run the extraction again to read its sheets",
			Code:    "RUN002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrRunNotReady) },
		msg: UserMessage{
			Message: "Extraction is still running",
			Action:  "Wait for the extraction to complete",
			Code:    "RUN003",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTooManyExtractions) },
		msg: UserMessage{
			Message: "System is busy processing other extractions",
			Action:  "Please wait a moment and try again",
			Code:    "RUN004",
		},
	},
	{
		match: func(err error) bool {
			return as[*CancelledError](err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		msg: UserMessage{
			Message: "Extraction was cancelled",
			Action:  "Narrow the filter or try again",
			Code:    "RUN005",
		},
	},
	{
		match: as[*DuplicateSheetError],
		msg: UserMessage{
			Message: "Sheet was built twice",
			Action:  "Please report this error to support",
			Code:    "RUN006",
		},
	},
}

// errorPattern maps driver error text (case-insensitive) to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "A source relation is missing",
			Action:  "Check the extraction source views are installed",
			Code:    "DB003",
		},
	},
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "A source relation is missing",
			Action:  "Check the extraction source views are installed",
			Code:    "DB003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Narrow the filter or try again later",
			Code:    "DB004",
		},
	},
}

var storageMessage = UserMessage{
	Message: "A sheet could not be built",
	Action:  "Please try again or contact support",
	Code:    "STG001",
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Typed errors are
// matched first, then driver text. Storage failures that match neither
// get STG001; anything else gets ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedMessages {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if as[*StorageError](err) {
		return storageMessage
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
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
