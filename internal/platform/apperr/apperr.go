// Package apperr defines the domain error kinds services return and their
// translation into HTTP errors at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrConceptReference = errors.New("concept not found")
	ErrDuplicate        = errors.New("already exists")
)

// NotFoundError reports a missing concept or concept set.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError reports malformed write input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConceptReferenceError carries every referenced concept id that does not
// exist in the vocabulary, sorted ascending.
type ConceptReferenceError struct {
	Missing []int64
}

func (e *ConceptReferenceError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = fmt.Sprint(id)
	}
	return "Concept not found: " + strings.Join(ids, ", ")
}

func (e *ConceptReferenceError) Is(target error) bool { return target == ErrConceptReference }

func ConceptReference(missing []int64) error {
	ids := append([]int64(nil), missing...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &ConceptReferenceError{Missing: ids}
}

// DuplicateError reports a unique-field collision.
type DuplicateError struct {
	Resource string
	Field    string
	Value    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s '%s' already exists", e.Resource, e.Field, e.Value)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

func Duplicate(resource, field, value string) error {
	return &DuplicateError{Resource: resource, Field: field, Value: value}
}

// ToHTTP maps err to an echo HTTP error. Unknown errors become a generic 500
// so store error text never reaches the caller.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConceptReference):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
