package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunNotFound is returned for unknown or already evicted run ids.
	ErrRunNotFound = errors.New("extraction run not found")

	// ErrRunReleased is returned when reading a released context.
	ErrRunReleased = errors.New("extraction run released")

	// ErrRunNotReady is returned when reading a run whose pipeline has not completed.
	ErrRunNotReady = errors.New("extraction run not ready")

	// ErrProductNotFound is returned when no product satisfies a product filter.
	ErrProductNotFound = errors.New("extraction product not found")
)

// UnknownFormatError reports an unrecognised format code or version.
type UnknownFormatError struct {
	Code    string
	Version string
}

func (e *UnknownFormatError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("unknown format %q", e.Code)
	}
	return fmt.Sprintf("unknown format %q version %q", e.Code, e.Version)
}

// ValidationError reports a filter invariant violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid filter: " + e.Reason
	}
	return fmt.Sprintf("invalid filter: %s: %s", e.Field, e.Reason)
}

// UnknownSheetError reports a sheet not declared by the context's format.
type UnknownSheetError struct {
	Format string
	Sheet  string
}

func (e *UnknownSheetError) Error() string {
	return fmt.Sprintf("unknown sheet %q for format %s", e.Sheet, e.Format)
}

// DuplicateSheetError reports a second bind of the same sheet.
type DuplicateSheetError struct {
	RunID string
	Sheet string
}

func (e *DuplicateSheetError) Error() string {
	return fmt.Sprintf("sheet %q already bound in run %s", e.Sheet, e.RunID)
}

// StorageError reports a builder or storage failure while building a sheet.
type StorageError struct {
	Sheet string
	Op    string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error on sheet %s (%s): %v", e.Sheet, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CancelledError reports a run cancelled before or during a sheet build.
type CancelledError struct {
	Sheet string
	Err   error
}

func (e *CancelledError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("extraction cancelled: %v", e.Err)
	}
	return fmt.Sprintf("extraction cancelled at sheet %s: %v", e.Sheet, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// ExtractionError is the single error returned by a failed Extract call.
type ExtractionError struct {
	RunID   string
	Format  string
	Version string
	Sheet   string   // Failing sheet, if any
	Built   []string // Sheets built before the failure
	Err     error
}

func (e *ExtractionError) Error() string {
	var b strings.Builder
	b.WriteString("extraction ")
	if e.RunID != "" {
		b.WriteString(e.RunID + " ")
	}
	b.WriteString(fmt.Sprintf("(%s %s) failed", e.Format, e.Version))
	if e.Sheet != "" {
		b.WriteString(" at sheet " + e.Sheet)
	}
	if len(e.Built) > 0 {
		b.WriteString(fmt.Sprintf(" after building [%s]", strings.Join(e.Built, ",")))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// failingSheet returns the sheet carried by a pipeline error, if any.
func failingSheet(err error) string {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Sheet
	}
	var ce *CancelledError
	if errors.As(err, &ce) {
		return ce.Sheet
	}
	var ds *DuplicateSheetError
	if errors.As(err, &ds) {
		return ds.Sheet
	}
	var us *UnknownSheetError
	if errors.As(err, &us) {
		return us.Sheet
	}
	return ""
}
