package promotion

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// family is the evaluator variant for one or more fields: which fact it
// reads, which operators it accepts, the value shape it expects and its
// strongly-typed comparison.
type family struct {
	fact fact
	// ops is nil for families that ignore the operator.
	ops   []Operator
	shape string
	eval  func(c Condition, ec *Context) (bool, error)
}

var (
	numericOps    = []Operator{OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual}
	membershipOps = []Operator{OpIn, OpNotIn}
	categoryOps   = []Operator{OpIn, OpNotIn, OpAll}
)

// FieldDelivery has no fact in Context, so it is deliberately absent and
// always evaluates to UnknownFieldError.
var families = map[Field]family{
	FieldOrderTotal: {fact: factOrderTotal, ops: numericOps, shape: Number{}.kind(), eval: evalOrderTotal},
	FieldItemCount:  {fact: factItemCount, ops: numericOps, shape: Number{}.kind(), eval: evalItemCount},
	FieldDayOfWeek:  {fact: factDayOfWeek, ops: membershipOps, shape: StringSet{}.kind(), eval: evalDayOfWeek},
	FieldUserGroup:  {fact: factUserGroups, ops: membershipOps, shape: StringSet{}.kind(), eval: evalUserGroup},
	FieldCategory:   {fact: factItems, ops: categoryOps, shape: StringSet{}.kind(), eval: evalCategory},
	FieldTimeOfDay:  {fact: factTimeOfDay, ops: membershipOps, shape: IntSet{}.kind(), eval: evalTimeOfDay},
	FieldFirstOrder: {fact: factFirstOrder, eval: evalFirstOrder},
}

var weekdays = StringSet{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Evaluate checks a single condition against the context. A false result
// with a nil error means the condition is simply not met; a non-nil error
// means the condition could not be evaluated at all.
func Evaluate(c Condition, ec *Context) (bool, error) {
	fam, ok := families[c.Field]
	if !ok || !ec.has(fam.fact) {
		return false, &UnknownFieldError{Field: c.Field}
	}
	return fam.eval(c, ec)
}

func evalOrderTotal(c Condition, ec *Context) (bool, error) {
	n, err := numberValue(c)
	if err != nil {
		return false, err
	}
	return compareNumbers(c, ec.OrderTotal, n)
}

func evalItemCount(c Condition, ec *Context) (bool, error) {
	n, err := numberValue(c)
	if err != nil {
		return false, err
	}
	return compareNumbers(c, decimal.NewFromInt(int64(ec.ItemCount)), n)
}

func compareNumbers(c Condition, actual, expected decimal.Decimal) (bool, error) {
	switch c.Operator {
	case OpGreaterThan:
		return actual.GreaterThan(expected), nil
	case OpLessThan:
		return actual.LessThan(expected), nil
	case OpGreaterOrEqual:
		return actual.GreaterThanOrEqual(expected), nil
	case OpLessOrEqual:
		return actual.LessThanOrEqual(expected), nil
	case OpEqual:
		return actual.Equal(expected), nil
	default:
		return false, &UnsupportedOperatorError{Operator: c.Operator, Field: c.Field}
	}
}

func evalDayOfWeek(c Condition, ec *Context) (bool, error) {
	if !weekdays.Contains(ec.DayOfWeek) {
		return false, &InvalidDayError{Day: ec.DayOfWeek}
	}
	days, err := stringsValue(c)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case OpIn:
		return days.Contains(ec.DayOfWeek), nil
	case OpNotIn:
		return !days.Contains(ec.DayOfWeek), nil
	default:
		return false, &UnsupportedOperatorError{Operator: c.Operator, Field: c.Field}
	}
}

func evalUserGroup(c Condition, ec *Context) (bool, error) {
	expected, err := stringsValue(c)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case OpIn:
		return anyPresent(expected, ec.UserGroups), nil
	case OpNotIn:
		return !anyPresent(expected, ec.UserGroups), nil
	default:
		return false, &UnsupportedOperatorError{Operator: c.Operator, Field: c.Field}
	}
}

func evalCategory(c Condition, ec *Context) (bool, error) {
	expected, err := stringsValue(c)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case OpIn:
		return anyPresent(expected, ec.Items), nil
	case OpNotIn:
		return !anyPresent(expected, ec.Items), nil
	case OpAll:
		actual := StringSet(ec.Items)
		for _, v := range expected {
			if !actual.Contains(v) {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, &UnsupportedOperatorError{Operator: c.Operator, Field: c.Field}
	}
}

func evalTimeOfDay(c Condition, ec *Context) (bool, error) {
	hours, ok := c.Value.(IntSet)
	if !ok {
		return false, &ValueShapeError{Field: c.Field, Want: IntSet{}.kind(), Got: kindOf(c.Value)}
	}
	if h, bad := hours.outOfRange(); bad {
		return false, &HourRangeError{Field: c.Field, Hour: h}
	}
	hour := ec.TimeOfDay.Hour()
	switch c.Operator {
	case OpIn:
		return hours.Contains(hour), nil
	case OpNotIn:
		return !hours.Contains(hour), nil
	default:
		return false, &UnsupportedOperatorError{Operator: c.Operator, Field: c.Field}
	}
}

func evalFirstOrder(_ Condition, ec *Context) (bool, error) {
	return ec.FirstOrder == 0, nil
}

// anyPresent is the existential test shared by in and notIn.
func anyPresent(expected StringSet, actual []string) bool {
	have := StringSet(actual)
	for _, v := range expected {
		if have.Contains(v) {
			return true
		}
	}
	return false
}

func numberValue(c Condition) (decimal.Decimal, error) {
	n, ok := c.Value.(Number)
	if !ok {
		return decimal.Zero, &ValueShapeError{Field: c.Field, Want: Number{}.kind(), Got: kindOf(c.Value)}
	}
	return n.Decimal(), nil
}

func stringsValue(c Condition) (StringSet, error) {
	s, ok := c.Value.(StringSet)
	if !ok {
		return nil, &ValueShapeError{Field: c.Field, Want: StringSet{}.kind(), Got: kindOf(c.Value)}
	}
	return s, nil
}

// UnmetCondition explains why one condition rejected the promotion.
type UnmetCondition struct {
	Field   Field
	Message string
	// Err is set when the condition could not be evaluated.
	Err error
}

// Result is the outcome of evaluating all conditions of a promotion.
type Result struct {
	Valid bool
	Unmet []UnmetCondition
}

// Validate evaluates every condition of p as a conjunction. All conditions
// are evaluated so the full set of unmet ones is reported; a condition that
// fails to evaluate counts as unmet with the error text as its message.
func Validate(p *Promotion, ec *Context) Result {
	var unmet []UnmetCondition
	for _, c := range p.Conditions {
		ok, err := Evaluate(c, ec)
		switch {
		case err != nil:
			unmet = append(unmet, UnmetCondition{Field: c.Field, Message: err.Error(), Err: err})
		case !ok:
			unmet = append(unmet, UnmetCondition{
				Field:   c.Field,
				Message: fmt.Sprintf("condition failed: %s", c),
			})
		}
	}
	return Result{Valid: len(unmet) == 0, Unmet: unmet}
}
