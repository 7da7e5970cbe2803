// Package schedule holds the date rules shared by the subtask grid and the
// remote store: inclusive durations and the parent task's date window.
package schedule

import (
	"errors"
	"fmt"
	"strings"

	"facilitrack/internal/domain"
)

// Duration is the inclusive span between two calendar dates.
// A same-day span is one day. Invalid is set when end precedes start.
type Duration struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Invalid bool `json:"invalid,omitempty"`
}

// Between computes the duration from start to end, counting the start day.
// A missing date yields the zero Duration.
func Between(start, end domain.Date) Duration {
	if start.IsZero() || end.IsZero() {
		return Duration{}
	}
	if end.Before(start) {
		return Duration{Invalid: true}
	}
	return Duration{Days: start.DaysUntil(end) + 1}
}

// TotalMinutes flattens the duration; invalid durations report -1.
func (d Duration) TotalMinutes() int {
	if d.Invalid {
		return -1
	}
	return d.Days*24*60 + d.Hours*60 + d.Minutes
}

func (d Duration) IsZero() bool {
	return !d.Invalid && d.Days == 0 && d.Hours == 0 && d.Minutes == 0
}

func (d Duration) String() string {
	if d.Invalid {
		return "invalid"
	}
	return fmt.Sprintf("%dd %dh %dm", d.Days, d.Hours, d.Minutes)
}

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

const (
	CodeRequired       = "required"
	CodeBeforeWindow   = "before_window"
	CodeAfterWindow    = "after_window"
	CodeEndBeforeStart = "end_before_start"
	CodeInvalidValue   = "invalid_value"
)

// ValidationError is a field-level failure caught before any network call.
type ValidationError struct {
	Field   domain.SubtaskField
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Required(field domain.SubtaskField) *ValidationError {
	return &ValidationError{Field: field, Code: CodeRequired, Message: "is required"}
}

func Invalid(field domain.SubtaskField, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: CodeInvalidValue, Message: fmt.Sprintf(format, args...)}
}

// Errors groups several field failures from one check.
type Errors []*ValidationError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Is(target error) bool { return target == ErrValidation && len(e) > 0 }

// Field returns the first failure for field, if any.
func (e Errors) Field(field domain.SubtaskField) *ValidationError {
	for _, v := range e {
		if v.Field == field {
			return v
		}
	}
	return nil
}

func (e Errors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Window bounds subtask dates. A zero End is unbounded.
type Window struct {
	Start domain.Date
	End   domain.Date
}

// ParentWindow derives the window from the parent task; today replaces a missing start.
func ParentWindow(parent domain.Task, today domain.Date) Window {
	start := parent.StartDate
	if start.IsZero() {
		start = today
	}
	return Window{Start: start, End: parent.EndDate}
}

func (w Window) checkStart(start domain.Date) *ValidationError {
	if start.IsZero() {
		return Required(domain.FieldStartDate)
	}
	if !w.Start.IsZero() && start.Before(w.Start) {
		return &ValidationError{Field: domain.FieldStartDate, Code: CodeBeforeWindow,
			Message: fmt.Sprintf("start date %s is before %s", start, w.Start)}
	}
	if !w.End.IsZero() && start.After(w.End) {
		return &ValidationError{Field: domain.FieldStartDate, Code: CodeAfterWindow,
			Message: fmt.Sprintf("start date %s is after parent end date %s", start, w.End)}
	}
	return nil
}

func (w Window) checkEnd(start, end domain.Date) *ValidationError {
	if end.IsZero() {
		return Required(domain.FieldEndDate)
	}
	if !start.IsZero() && end.Before(start) {
		return &ValidationError{Field: domain.FieldEndDate, Code: CodeEndBeforeStart,
			Message: fmt.Sprintf("end date %s is before start date %s", end, start)}
	}
	if !w.End.IsZero() && end.After(w.End) {
		return &ValidationError{Field: domain.FieldEndDate, Code: CodeAfterWindow,
			Message: fmt.Sprintf("end date %s is after parent end date %s", end, w.End)}
	}
	return nil
}

// CheckStart validates a new start date against the window and the row's current end.
func (w Window) CheckStart(start, end domain.Date) error {
	var errs Errors
	if v := w.checkStart(start); v != nil {
		errs = append(errs, v)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		errs = append(errs, &ValidationError{Field: domain.FieldStartDate, Code: CodeEndBeforeStart,
			Message: fmt.Sprintf("start date %s is after end date %s", start, end)})
	}
	return errs.orNil()
}

// CheckEnd validates a new end date against the row's start and the window.
func (w Window) CheckEnd(start, end domain.Date) error {
	if v := w.checkEnd(start, end); v != nil {
		return Errors{v}
	}
	return nil
}

// CheckRange validates both dates of a row or draft.
func (w Window) CheckRange(start, end domain.Date) error {
	var errs Errors
	if v := w.checkStart(start); v != nil {
		errs = append(errs, v)
	}
	if v := w.checkEnd(start, end); v != nil {
		errs = append(errs, v)
	}
	return errs.orNil()
}
