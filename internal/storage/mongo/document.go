package mongo

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

type promotionDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Code          string             `bson:"code"`
	Name          string             `bson:"name"`
	Description   string             `bson:"description,omitempty"`
	DiscountType  string             `bson:"discountType"`
	DiscountValue bson.RawValue      `bson:"discountValue"`
	Conditions    []conditionDoc     `bson:"condition"`
	StartDate     time.Time          `bson:"startDate"`
	EndDate       time.Time          `bson:"endDate"`
	MaxUses       int                `bson:"maxUses"`
	UsedCount     int                `bson:"usedCount"`
	IsActive      bool               `bson:"isActive"`
	CreatedAt     time.Time          `bson:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt"`
}

// conditionDoc keeps the value raw: legacy documents hold whatever the
// admin tooling wrote, so it is only interpreted once the field is known.
type conditionDoc struct {
	Field    string        `bson:"field"`
	Operator string        `bson:"operator"`
	Value    bson.RawValue `bson:"value"`
}

type userDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	TotalOrders int                `bson:"totalOrders"`
	Groups      []string           `bson:"groups"`
}

func toPromotionDoc(p *promotion.Promotion) (promotionDoc, error) {
	doc := promotionDoc{
		Code:         p.Code,
		Name:         p.Name,
		Description:  p.Description,
		DiscountType: string(p.DiscountType),
		Conditions:   make([]conditionDoc, 0, len(p.Conditions)),
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		MaxUses:      p.MaxUses,
		UsedCount:    p.UsedCount,
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.ID != "" {
		id, err := primitive.ObjectIDFromHex(p.ID)
		if err != nil {
			return doc, errors.Wrapf(err, "promotion id %q", p.ID)
		}
		doc.ID = id
	}

	var err error
	if doc.DiscountValue, err = rawDecimal(p.DiscountValue); err != nil {
		return doc, errors.Wrap(err, "discount value")
	}
	for _, c := range p.Conditions {
		v, err := rawValue(c.Value)
		if err != nil {
			return doc, errors.Wrapf(err, "condition %s", c.Field)
		}
		doc.Conditions = append(doc.Conditions, conditionDoc{
			Field:    string(c.Field),
			Operator: string(c.Operator),
			Value:    v,
		})
	}
	return doc, nil
}

func (doc *promotionDoc) toDomain() (*promotion.Promotion, error) {
	p := &promotion.Promotion{
		ID:           doc.ID.Hex(),
		Code:         doc.Code,
		Name:         doc.Name,
		Description:  doc.Description,
		DiscountType: promotion.DiscountType(doc.DiscountType),
		Conditions:   make([]promotion.Condition, 0, len(doc.Conditions)),
		StartDate:    doc.StartDate,
		EndDate:      doc.EndDate,
		MaxUses:      doc.MaxUses,
		UsedCount:    doc.UsedCount,
		IsActive:     doc.IsActive,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}

	var err error
	if p.DiscountValue, err = numberFromRaw(doc.DiscountValue); err != nil {
		return nil, errors.Wrapf(err, "promotion %s discount value", p.ID)
	}
	for _, c := range doc.Conditions {
		field := promotion.Field(c.Field)
		v, err := valueFromRaw(c.Value, field)
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %s condition %s", p.ID, c.Field)
		}
		p.Conditions = append(p.Conditions, promotion.Condition{
			Field:    field,
			Operator: promotion.Operator(c.Operator),
			Value:    v,
		})
	}
	return p, nil
}

func rawDecimal(d decimal.Decimal) (bson.RawValue, error) {
	n, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return bson.RawValue{}, err
	}
	return marshalRaw(n)
}

func rawValue(v promotion.Value) (bson.RawValue, error) {
	switch v := v.(type) {
	case nil:
		return marshalRaw(nil)
	case promotion.Number:
		return rawDecimal(v.Decimal())
	case promotion.StringSet:
		return marshalRaw([]string(v))
	case promotion.IntSet:
		return marshalRaw([]int(v))
	default:
		return marshalRaw(v.String())
	}
}

func marshalRaw(v any) (bson.RawValue, error) {
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, err
	}
	return bson.RawValue{Type: t, Value: data}, nil
}

func numberFromRaw(rv bson.RawValue) (decimal.Decimal, error) {
	switch rv.Type {
	case bsontype.Double:
		return decimal.NewFromFloat(rv.Double()), nil
	case bsontype.Int32:
		return decimal.NewFromInt32(rv.Int32()), nil
	case bsontype.Int64:
		return decimal.NewFromInt(rv.Int64()), nil
	case bsontype.Decimal128:
		return decimal.NewFromString(rv.Decimal128().String())
	default:
		return decimal.Zero, errors.Errorf("not a number: %s", rv.Type)
	}
}

// valueFromRaw re-expresses a BSON literal as JSON and runs it through the
// shared condition value decoder, so both stores agree on value shapes.
func valueFromRaw(rv bson.RawValue, field promotion.Field) (promotion.Value, error) {
	if rv.Type == 0 {
		return nil, nil
	}
	if !isRepresentable(rv) {
		return promotion.Unsupported(rv.String(), rv.Type.String()), nil
	}

	var e jx.Encoder
	if err := writeJSON(&e, rv); err != nil {
		return nil, err
	}
	return promotion.DecodeValue(jx.DecodeBytes(e.Bytes()), field)
}

func isRepresentable(rv bson.RawValue) bool {
	switch rv.Type {
	case bsontype.Double, bsontype.Int32, bsontype.Int64, bsontype.Decimal128,
		bsontype.String, bsontype.Boolean, bsontype.Null, bsontype.Array:
		return true
	default:
		return false
	}
}

func writeJSON(e *jx.Encoder, rv bson.RawValue) error {
	switch rv.Type {
	case bsontype.Double, bsontype.Int32, bsontype.Int64, bsontype.Decimal128:
		n, err := numberFromRaw(rv)
		if err != nil {
			return err
		}
		e.Raw([]byte(n.String()))
	case bsontype.String:
		e.Str(rv.StringValue())
	case bsontype.Boolean:
		e.Bool(rv.Boolean())
	case bsontype.Array:
		values, err := rv.Array().Values()
		if err != nil {
			return errors.Wrap(err, "read array")
		}
		e.ArrStart()
		for _, v := range values {
			if !isRepresentable(v) {
				e.Null()
				continue
			}
			if err := writeJSON(e, v); err != nil {
				return err
			}
		}
		e.ArrEnd()
	default:
		e.Null()
	}
	return nil
}
