package promotion

import (
	"fmt"

	"github.com/go-faster/errors"
)

// UnknownFieldError indicates a condition names a fact the context does
// not provide.
type UnknownFieldError struct {
	Field Field
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("invalid field: %s", e.Field)
}

// UnsupportedOperatorError indicates an operator outside the field's family.
type UnsupportedOperatorError struct {
	Operator Operator
	Field    Field
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator %q for field %s", e.Operator, e.Field)
}

// InvalidDayError indicates the context's day of week is not a canonical
// weekday name.
type InvalidDayError struct {
	Day string
}

func (e *InvalidDayError) Error() string {
	return fmt.Sprintf("invalid day: %q", e.Day)
}

// ValueShapeError indicates a condition value whose shape does not match
// what the field's evaluator expects.
type ValueShapeError struct {
	Field Field
	Want  string
	Got   string
}

func (e *ValueShapeError) Error() string {
	return fmt.Sprintf("field %s: want %s value, got %s", e.Field, e.Want, e.Got)
}

// HourRangeError indicates a time-of-day condition lists an hour outside
// 0-23, which no order can ever match.
type HourRangeError struct {
	Field Field
	Hour  int
}

func (e *HourRangeError) Error() string {
	return fmt.Sprintf("field %s: hour %d out of range 0-23", e.Field, e.Hour)
}

// IsConfigurationError reports whether err stems from a malformed
// promotion record rather than from user behaviour.
func IsConfigurationError(err error) bool {
	var (
		unknownField *UnknownFieldError
		unsupported  *UnsupportedOperatorError
		invalidDay   *InvalidDayError
		shape        *ValueShapeError
		hourRange    *HourRangeError
	)
	return errors.As(err, &unknownField) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &invalidDay) ||
		errors.As(err, &shape) ||
		errors.As(err, &hourRange)
}

// ConditionsNotMetError is a user-facing rejection carrying every unmet
// condition in promotion order.
type ConditionsNotMetError struct {
	Unmet []UnmetCondition
}

func (e *ConditionsNotMetError) Error() string {
	return fmt.Sprintf("%d promotion condition(s) not met", len(e.Unmet))
}
