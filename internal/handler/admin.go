package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

const (
	codeLength      = 32
	codeAttempts    = 3
	adminDateLayout = "01/02/2006"
)

// generateCode returns 32 uppercase hex characters from crypto/rand.
func generateCode() (string, error) {
	b := make([]byte, codeLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// parseAdminDate accepts MM/DD/YYYY, read as midnight in loc, or RFC 3339.
func parseAdminDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(adminDateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("date %q is neither MM/DD/YYYY nor RFC 3339", s)
	}
	return t, nil
}

func (h *Handler) decodeCreateRequest(d *jx.Decoder) (*promotion.Promotion, error) {
	p := &promotion.Promotion{IsActive: true, Conditions: []promotion.Condition{}}
	var hasStart, hasEnd bool

	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			p.DiscountType = promotion.DiscountType(s)
		case "discountValue":
			p.DiscountValue, err = promotion.DecodeDecimal(d)
		case "condition", "conditions":
			p.Conditions, err = promotion.DecodeConditions(d)
		case "startDate", "endDate":
			var s string
			if s, err = d.Str(); err != nil {
				break
			}
			var t time.Time
			if t, err = parseAdminDate(s, h.loc); err != nil {
				break
			}
			if key == "startDate" {
				p.StartDate, hasStart = t, true
			} else {
				p.EndDate, hasEnd = t, true
			}
		case "maxUses":
			p.MaxUses, err = d.Int()
		case "isActive":
			p.IsActive, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasStart || !hasEnd {
		return nil, errors.New("startDate and endDate are required")
	}
	return p, nil
}

// CreatePromotion handles POST /api/v1/admin/promotions. The code is
// always generated server side.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.decodeCreateRequest(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	var invalid *promotion.InvalidPromotionError
	if err := p.Check(); errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, "invalid promotion", func(e *jx.Encoder) {
			e.FieldStart("problems")
			e.ArrStart()
			for _, problem := range invalid.Problems {
				e.Str(problem)
			}
			e.ArrEnd()
		})
		return
	}

	for attempt := 1; ; attempt++ {
		if p.Code, err = h.generate(); err != nil {
			h.internalError(ctx, w, "Generate promotion code failed", err)
			return
		}
		err = h.promotions.Create(ctx, p)
		if !errors.Is(err, promotion.ErrDuplicateCode) || attempt == codeAttempts {
			break
		}
	}
	if err != nil {
		h.internalError(ctx, w, "Create promotion failed", err)
		return
	}

	zctx.From(ctx).Info("Promotion created",
		zap.String("promotion_id", p.ID),
		zap.String("promotion_code", p.Code),
	)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		promotion.EncodePromotion(e, p)
	})
}
