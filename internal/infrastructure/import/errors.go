package csvimport

import (
	"errors"
	"fmt"
	"strings"
)

// Row error codes, grouped in the run summary.
const (
	ErrCodeRequiredField     = "ERR_IMPORT_REQUIRED_FIELD"
	ErrCodeInvalidType       = "ERR_IMPORT_INVALID_TYPE"
	ErrCodeInvalidFormat     = "ERR_IMPORT_INVALID_FORMAT"
	ErrCodeInvalidLength     = "ERR_IMPORT_INVALID_LENGTH"
	ErrCodeInvalidRange      = "ERR_IMPORT_INVALID_RANGE"
	ErrCodeDuplicateInFile   = "ERR_IMPORT_DUPLICATE_IN_FILE"
	ErrCodeReferenceNotFound = "ERR_IMPORT_REFERENCE_NOT_FOUND"
	ErrCodeRemote            = "ERR_IMPORT_REMOTE"
	ErrCodeValidation        = "ERR_IMPORT_VALIDATION"
)

// File level errors. They make a whole file unusable.
var (
	ErrEmptyFile       = errors.New("CSV file is empty")
	ErrInvalidEncoding = errors.New("invalid file encoding")
	ErrMissingHeader   = errors.New("CSV file missing header row")
)

const defaultErrorLimit = 100

// MissingColumnsError names the required columns a file lacks.
type MissingColumnsError struct {
	Path    string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return e.Path + ": missing required columns: " + strings.Join(e.Missing, ", ")
}

// RowError is one rejected cell or row. Row is the 1-based line in the file.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
}

// ErrorCollection counts every row error of a load but keeps only the
// first few. Not safe for concurrent use.
type ErrorCollection struct {
	kept  []RowError
	limit int
	total int
}

// NewErrorCollection keeps up to limit errors; 100 when limit is not positive.
func NewErrorCollection(limit int) *ErrorCollection {
	if limit <= 0 {
		limit = defaultErrorLimit
	}
	return &ErrorCollection{limit: limit}
}

func (ec *ErrorCollection) Add(err RowError) {
	if ec.total++; len(ec.kept) < ec.limit {
		ec.kept = append(ec.kept, err)
	}
}

func (ec *ErrorCollection) AddError(row int, column, code, message, value string) {
	ec.Add(RowError{Row: row, Column: column, Code: code, Message: message, Value: value})
}

func (ec *ErrorCollection) AddRequiredError(row int, column string) {
	ec.AddError(row, column, ErrCodeRequiredField, "field '"+column+"' is required", "")
}

// AddReferenceError records a value naming a kind of record that does not exist
func (ec *ErrorCollection) AddReferenceError(row int, column, value, kind string) {
	ec.AddError(row, column, ErrCodeReferenceNotFound, fmt.Sprintf("%s '%s' not found", kind, value), value)
}

// AddRemoteError records an ERP call that failed for the row
func (ec *ErrorCollection) AddRemoteError(row int, err error) {
	ec.AddError(row, "", ErrCodeRemote, err.Error(), "")
}

func (ec *ErrorCollection) Errors() []RowError { return ec.kept }

// TotalCount includes the errors beyond the limit
func (ec *ErrorCollection) TotalCount() int { return ec.total }

func (ec *ErrorCollection) HasErrors() bool { return ec.total > 0 }

func (ec *ErrorCollection) IsTruncated() bool { return ec.total > len(ec.kept) }

// ErrorSummary counts the kept errors by code
func (ec *ErrorCollection) ErrorSummary() map[string]int {
	byCode := make(map[string]int)
	for _, e := range ec.kept {
		byCode[e.Code]++
	}
	return byCode
}

func (ec *ErrorCollection) String() string {
	if ec.total == 0 {
		return "no errors"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d error(s) found", ec.total)
	if ec.IsTruncated() {
		fmt.Fprintf(&sb, " (showing first %d)", len(ec.kept))
	}
	sb.WriteString(":")
	for _, e := range ec.kept {
		sb.WriteString("\n  - " + e.Error())
	}
	return sb.String()
}
