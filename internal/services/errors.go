package services

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
)

// Store error codes treated as duplicates.
const (
	CodeDuplicateValue     = "DUPLICATE_VALUE"
	CodeDuplicatesDetected = "DUPLICATES_DETECTED"
)

// FailureKind classifies a create failure.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureDuplicate
)

func (k FailureKind) String() string {
	if k == FailureDuplicate {
		return "duplicate"
	}
	return "other"
}

var duplicateIDPattern = regexp.MustCompile(`with id:\s*([A-Za-z0-9]+)`)

// StoreError is a failure reported by a record store for one request or one record of a batch.
type StoreError struct {
	StatusCode  int
	Code        string
	Message     string
	Fields      []string
	DuplicateID string // existing target id, duplicates only
}

// apiError is the wire form of a store error.
type apiError struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields"`
}

// NewStoreError builds a StoreError and extracts the existing id from duplicate messages.
func NewStoreError(status int, code, message string, fields ...string) *StoreError {
	e := &StoreError{StatusCode: status, Code: code, Message: message, Fields: fields}
	if e.duplicate() {
		if m := duplicateIDPattern.FindStringSubmatch(message); len(m) == 2 {
			e.DuplicateID = m[1]
		}
	}
	return e
}

func fromAPIErrors(status int, errs []apiError) *StoreError {
	if len(errs) == 0 {
		return NewStoreError(status, "", http.StatusText(status))
	}
	first := errs[0]
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return NewStoreError(status, first.ErrorCode, strings.Join(msgs, "; "), first.Fields...)
}

func (e *StoreError) Error() string {
	var b strings.Builder
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d: ", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "%s: ", e.Code)
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(e.Fields, ", "))
	}
	return b.String()
}

func (e *StoreError) duplicate() bool {
	switch e.Code {
	case CodeDuplicateValue, CodeDuplicatesDetected:
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "duplicate value found")
}

// Unwrap maps the error onto the shared sentinels so callers can use errors.Is.
func (e *StoreError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return shared.ErrRecordNotFound
	case e.duplicate():
		return shared.ErrDuplicateRecord
	case e.StatusCode >= 500:
		return shared.ErrStoreUnavailable
	default:
		return shared.ErrStoreRequest
	}
}

// Classify reports whether a create failure is a recoverable duplicate.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureOther
	}
	if errors.Is(err, shared.ErrDuplicateRecord) {
		return FailureDuplicate
	}
	return FailureOther
}

// IsDuplicate is shorthand for Classify(err) == FailureDuplicate.
func IsDuplicate(err error) bool {
	return Classify(err) == FailureDuplicate
}

// DuplicateID returns the existing record id carried by a duplicate error, if any.
func DuplicateID(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.DuplicateID
	}
	return ""
}
