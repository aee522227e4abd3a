package promotion

import (
	"time"

	"github.com/shopspring/decimal"
)

type fact uint8

const (
	factDayOfWeek fact = 1 << iota
	factFirstOrder
	factOrderTotal
	factItemCount
	factUserGroups
	factTimeOfDay
	factItems
)

// Context carries the facts a promotion's conditions are evaluated
// against. It is built per apply attempt and never shared.
//
// A fact counts as present only when set through its With method, so an
// unset fact is distinguishable from a zero value.
type Context struct {
	DayOfWeek string
	// FirstOrder is the number of orders the user placed before; 0 means
	// this is the first one.
	FirstOrder int
	OrderTotal decimal.Decimal
	ItemCount  int
	UserGroups []string
	TimeOfDay  time.Time
	// Items holds the category identifiers present in the order.
	Items []string

	facts fact
}

// NewContext returns a Context with no facts registered.
func NewContext() *Context {
	return &Context{}
}

// At returns a Context with the clock facts (day of week and time of day)
// derived from t in t's location.
func At(t time.Time) *Context {
	return NewContext().WithDayOfWeek(t.Weekday().String()).WithTimeOfDay(t)
}

func (c *Context) WithDayOfWeek(day string) *Context {
	c.DayOfWeek = day
	c.facts |= factDayOfWeek
	return c
}

func (c *Context) WithFirstOrder(priorOrders int) *Context {
	c.FirstOrder = priorOrders
	c.facts |= factFirstOrder
	return c
}

func (c *Context) WithOrderTotal(total decimal.Decimal) *Context {
	c.OrderTotal = total
	c.facts |= factOrderTotal
	return c
}

func (c *Context) WithItemCount(n int) *Context {
	c.ItemCount = n
	c.facts |= factItemCount
	return c
}

func (c *Context) WithUserGroups(groups ...string) *Context {
	c.UserGroups = groups
	c.facts |= factUserGroups
	return c
}

func (c *Context) WithTimeOfDay(t time.Time) *Context {
	c.TimeOfDay = t
	c.facts |= factTimeOfDay
	return c
}

func (c *Context) WithItems(categories ...string) *Context {
	c.Items = categories
	c.facts |= factItems
	return c
}

func (c *Context) has(f fact) bool {
	return c != nil && f != 0 && c.facts&f == f
}
