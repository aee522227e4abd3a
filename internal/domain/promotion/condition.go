package promotion

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field names the contextual fact a Condition is evaluated against.
type Field string

const (
	FieldOrderTotal Field = "orderTotal"
	FieldCategory   Field = "category"
	FieldUserGroup  Field = "userGroup"
	FieldItemCount  Field = "itemCount"
	FieldTimeOfDay  Field = "timeOfDay"
	FieldDelivery   Field = "delivery"
	FieldFirstOrder Field = "firstOrder"
	FieldDayOfWeek  Field = "dayOfWeek"
)

// Operator is the comparison a Condition applies.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpEqual          Operator = "=="
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "in"
	OpNotIn          Operator = "notIn"
	// OpAll is only meaningful for FieldCategory.
	OpAll Operator = "all"
)

// Value is the literal a Condition compares against. The set of
// implementations is closed: Number, StringSet and IntSet.
type Value interface {
	String() string
	kind() string
}

// Number is a numeric literal.
type Number decimal.Decimal

// NumberOf is a shorthand for Number(decimal.NewFromInt(v)).
func NumberOf(v int64) Number { return Number(decimal.NewFromInt(v)) }

// Decimal returns the underlying decimal.
func (n Number) Decimal() decimal.Decimal { return decimal.Decimal(n) }

func (n Number) String() string { return decimal.Decimal(n).String() }

func (Number) kind() string { return "number" }

// StringSet is a set of string literals (days, groups, categories).
type StringSet []string

func (s StringSet) String() string { return strings.Join(s, ",") }

func (StringSet) kind() string { return "string set" }

// Contains reports whether v is a member of s.
func (s StringSet) Contains(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// IntSet is a set of integer literals (hours of the day).
type IntSet []int

// outOfRange returns the first member that is not an hour of the day.
func (s IntSet) outOfRange() (int, bool) {
	for _, h := range s {
		if h < 0 || h > 23 {
			return h, true
		}
	}
	return 0, false
}

func (s IntSet) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (IntSet) kind() string { return "integer set" }

// Contains reports whether v is a member of s.
func (s IntSet) Contains(v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func kindOf(v Value) string {
	if v == nil {
		return "nothing"
	}
	return v.kind()
}

// Condition is a single predicate over one named contextual fact.
type Condition struct {
	Field    Field
	Operator Operator
	Value    Value
}

// Compare builds a numeric condition, e.g. Compare(FieldOrderTotal, OpGreaterThan, d).
func Compare(field Field, op Operator, n decimal.Decimal) Condition {
	return Condition{Field: field, Operator: op, Value: Number(n)}
}

// Among builds a membership condition over string values.
func Among(field Field, op Operator, values ...string) Condition {
	return Condition{Field: field, Operator: op, Value: StringSet(values)}
}

// AtHours builds a time-of-day condition over hours 0-23.
func AtHours(op Operator, hours ...int) Condition {
	return Condition{Field: FieldTimeOfDay, Operator: op, Value: IntSet(hours)}
}

// FirstOrderOnly builds a condition that holds only for a user's first order.
func FirstOrderOnly() Condition {
	return Condition{Field: FieldFirstOrder, Operator: OpEqual, Value: NumberOf(0)}
}

func (c Condition) String() string {
	v := "<nil>"
	if c.Value != nil {
		v = c.Value.String()
	}
	return string(c.Field) + " " + string(c.Operator) + " " + v
}

// Check validates the condition statically: the field has an evaluator,
// the operator belongs to the field's family and the value has the shape
// the family expects.
func (c Condition) Check() error {
	fam, ok := families[c.Field]
	if !ok {
		return &UnknownFieldError{Field: c.Field}
	}
	if fam.ops == nil {
		return nil
	}
	if !containsOp(fam.ops, c.Operator) {
		return &UnsupportedOperatorError{Operator: c.Operator, Field: c.Field}
	}
	if kindOf(c.Value) != fam.shape {
		return &ValueShapeError{Field: c.Field, Want: fam.shape, Got: kindOf(c.Value)}
	}
	if hours, ok := c.Value.(IntSet); ok {
		if h, bad := hours.outOfRange(); bad {
			return &HourRangeError{Field: c.Field, Hour: h}
		}
	}
	return nil
}

func containsOp(ops []Operator, op Operator) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
