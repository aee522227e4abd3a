package promotion

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

var maxHour = decimal.NewFromInt(23)

// opaque holds a decoded condition value that has none of the supported
// shapes. It is kept so the evaluator can report the mismatch for that one
// condition instead of the whole promotion failing to load.
type opaque struct {
	raw string
	typ string
}

func (o opaque) String() string { return o.raw }

func (o opaque) kind() string { return o.typ }

// Unsupported wraps a stored literal that fits none of the Value shapes.
// raw is its textual form and kind names what it was, e.g. "boolean".
func Unsupported(raw, kind string) Value {
	return opaque{raw: raw, typ: kind}
}

// EncodeValue writes v as JSON: a number, or an array of strings or integers.
func EncodeValue(e *jx.Encoder, v Value) {
	switch v := v.(type) {
	case Number:
		e.Raw([]byte(v.String()))
	case StringSet:
		e.ArrStart()
		for _, s := range v {
			e.Str(s)
		}
		e.ArrEnd()
	case IntSet:
		e.ArrStart()
		for _, n := range v {
			e.Int(n)
		}
		e.ArrEnd()
	case opaque:
		e.Raw([]byte(v.raw))
	default:
		e.Null()
	}
}

// DecodeValue reads a loosely typed JSON literal into the closed Value
// union. field picks the shape of an empty array.
func DecodeValue(d *jx.Decoder, field Field) (Value, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Number:
		n, err := DecodeDecimal(d)
		if err != nil {
			return nil, err
		}
		return Number(n), nil
	case jx.Array:
		return decodeArrayValue(d, field)
	default:
		raw, err := d.Raw()
		if err != nil {
			return nil, errors.Wrap(err, "read value")
		}
		return opaque{raw: raw.String(), typ: raw.Type().String()}, nil
	}
}

func decodeArrayValue(d *jx.Decoder, field Field) (Value, error) {
	raw, err := d.Raw()
	if err != nil {
		return nil, errors.Wrap(err, "read array value")
	}

	var (
		strs  []string
		nums  []decimal.Decimal
		other bool
	)
	if err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			strs = append(strs, s)
		case jx.Number:
			n, err := DecodeDecimal(d)
			if err != nil {
				return err
			}
			nums = append(nums, n)
		default:
			other = true
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode array value")
	}

	switch {
	case other || (len(strs) > 0 && len(nums) > 0):
		return opaque{raw: raw.String(), typ: "mixed array"}, nil
	case len(strs) > 0:
		return StringSet(strs), nil
	case len(nums) > 0:
		ints := make(IntSet, len(nums))
		for i, n := range nums {
			if !n.IsInteger() {
				return opaque{raw: raw.String(), typ: "decimal array"}, nil
			}
			// Hours only; larger literals would wrap in the int conversion.
			if n.LessThan(decimal.Zero) || n.GreaterThan(maxHour) {
				return opaque{raw: raw.String(), typ: "out of range integer array"}, nil
			}
			ints[i] = int(n.IntPart())
		}
		return ints, nil
	}

	// An empty array takes the shape of the field's family. Fields without
	// one keep it verbatim so a shape check can still reject it.
	fam, ok := families[field]
	switch {
	case !ok || fam.ops == nil:
		return opaque{raw: raw.String(), typ: "empty array"}, nil
	case fam.shape == (IntSet{}).kind():
		return IntSet{}, nil
	default:
		return StringSet{}, nil
	}
}

// DecodeDecimal reads a JSON number without going through float64.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "read number")
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse number %q", n.String())
	}
	return v, nil
}

// EncodeCondition writes c as {"field":..,"operator":..,"value":..}.
func EncodeCondition(e *jx.Encoder, c Condition) {
	e.ObjStart()
	e.FieldStart("field")
	e.Str(string(c.Field))
	e.FieldStart("operator")
	e.Str(string(c.Operator))
	e.FieldStart("value")
	EncodeValue(e, c.Value)
	e.ObjEnd()
}

// DecodeCondition reads a condition object. The value is decoded after the
// object is read so its shape can depend on the field regardless of key order.
func DecodeCondition(d *jx.Decoder) (Condition, error) {
	var (
		c        Condition
		rawValue jx.Raw
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "field":
			s, err := d.Str()
			c.Field = Field(s)
			return err
		case "operator":
			s, err := d.Str()
			c.Operator = Operator(s)
			return err
		case "value":
			raw, err := d.Raw()
			rawValue = raw
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return Condition{}, errors.Wrap(err, "decode condition")
	}
	if len(rawValue) > 0 {
		v, err := DecodeValue(jx.DecodeBytes(rawValue), c.Field)
		if err != nil {
			return Condition{}, errors.Wrapf(err, "decode %s value", c.Field)
		}
		c.Value = v
	}
	return c, nil
}

// EncodeConditions writes conditions as a JSON array.
func EncodeConditions(e *jx.Encoder, conditions []Condition) {
	e.ArrStart()
	for _, c := range conditions {
		EncodeCondition(e, c)
	}
	e.ArrEnd()
}

// DecodeConditions reads a JSON array of conditions.
func DecodeConditions(d *jx.Decoder) ([]Condition, error) {
	conditions := []Condition{}
	if err := d.Arr(func(d *jx.Decoder) error {
		c, err := DecodeCondition(d)
		if err != nil {
			return err
		}
		conditions = append(conditions, c)
		return nil
	}); err != nil {
		return nil, err
	}
	return conditions, nil
}

// MarshalConditions encodes conditions to a standalone JSON document.
func MarshalConditions(conditions []Condition) []byte {
	var e jx.Encoder
	EncodeConditions(&e, conditions)
	return e.Bytes()
}

// UnmarshalConditions decodes a JSON document produced by MarshalConditions.
func UnmarshalConditions(data []byte) ([]Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return DecodeConditions(jx.DecodeBytes(data))
}

// EncodePromotion writes the full promotion record as a JSON object.
func EncodePromotion(e *jx.Encoder, p *Promotion) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("discountType")
	e.Str(string(p.DiscountType))
	e.FieldStart("discountValue")
	e.Raw([]byte(p.DiscountValue.String()))
	e.FieldStart("conditions")
	EncodeConditions(e, p.Conditions)
	e.FieldStart("startDate")
	e.Str(p.StartDate.UTC().Format(time.RFC3339Nano))
	e.FieldStart("endDate")
	e.Str(p.EndDate.UTC().Format(time.RFC3339Nano))
	e.FieldStart("maxUses")
	e.Int(p.MaxUses)
	e.FieldStart("usedCount")
	e.Int(p.UsedCount)
	e.FieldStart("isActive")
	e.Bool(p.IsActive)
	if !p.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		e.Str(p.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if !p.UpdatedAt.IsZero() {
		e.FieldStart("updatedAt")
		e.Str(p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	e.ObjEnd()
}

// DecodePromotion reads an object written by EncodePromotion. The
// "condition" key used by the legacy documents is accepted as well.
func DecodePromotion(d *jx.Decoder) (*Promotion, error) {
	var p Promotion
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "code":
			p.Code, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			p.DiscountType = DiscountType(s)
		case "discountValue":
			p.DiscountValue, err = DecodeDecimal(d)
		case "conditions", "condition":
			p.Conditions, err = DecodeConditions(d)
		case "startDate":
			p.StartDate, err = decodeTime(d)
		case "endDate":
			p.EndDate, err = decodeTime(d)
		case "createdAt":
			p.CreatedAt, err = decodeTime(d)
		case "updatedAt":
			p.UpdatedAt, err = decodeTime(d)
		case "maxUses":
			p.MaxUses, err = d.Int()
		case "usedCount":
			p.UsedCount, err = d.Int()
		case "isActive":
			p.IsActive, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %s", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode promotion")
	}
	return &p, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
