package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-rules/internal/domain/customer"
	"github.com/xenking/promo-rules/internal/domain/promotion"
)

type orderData struct {
	Total        decimal.Decimal
	HasTotal     bool
	ItemCount    int
	HasItemCount bool
	Items        []string
	HasItems     bool
}

type applyRequest struct {
	PromoCode string
	UserID    string
	Order     orderData
}

func decodeApplyRequest(d *jx.Decoder) (applyRequest, error) {
	var req applyRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "promoCode":
			req.PromoCode, err = d.Str()
		case "userId":
			req.UserID, err = d.Str()
		case "order", "orderData":
			req.Order, err = decodeOrderData(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		return nil
	})
	if err != nil {
		return req, err
	}

	switch {
	case req.PromoCode == "":
		return req, errors.New("promoCode is required")
	case req.UserID == "":
		return req, errors.New("userId is required")
	case !req.Order.HasTotal:
		return req, errors.New("order.total is required")
	}
	return req, nil
}

func decodeOrderData(d *jx.Decoder) (orderData, error) {
	var o orderData
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "total":
			o.Total, err = promotion.DecodeDecimal(d)
			o.HasTotal = err == nil
		case "itemCount":
			o.ItemCount, err = d.Int()
			o.HasItemCount = err == nil
		case "items":
			o.Items = []string{}
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				o.Items = append(o.Items, s)
				return err
			})
			o.HasItems = err == nil
		default:
			err = d.Skip()
		}
		return err
	})
	return o, err
}

// ApplyPromotion handles POST /api/v1/promotions/apply.
func (h *Handler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeApplyRequest(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	cust, err := h.customers.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(ctx, w, "Customer lookup failed", err)
		return
	}

	ec := h.evaluationContext(cust, req.Order)
	app, err := h.applier.Apply(ctx, req.PromoCode, ec, req.Order.Total)
	if err != nil {
		h.writeApplyError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("promotion")
		e.Str(app.PromotionID)
		e.FieldStart("code")
		e.Str(app.Code)
		e.FieldStart("message")
		e.Str("Promotion applied successfully")
		e.FieldStart("discount")
		encodeDecimal(e, app.Discount)
		e.FieldStart("newTotal")
		encodeDecimal(e, app.NewTotal)
		e.ObjEnd()
	})
}

// evaluationContext registers only the facts the request carries, so a
// condition on an omitted fact is reported instead of silently compared
// against zero.
func (h *Handler) evaluationContext(c *customer.Customer, o orderData) *promotion.Context {
	ec := promotion.At(h.now().In(h.loc)).
		WithFirstOrder(c.TotalOrders).
		WithUserGroups(c.Groups...).
		WithOrderTotal(o.Total)
	if o.HasItemCount {
		ec.WithItemCount(o.ItemCount)
	}
	if o.HasItems {
		ec.WithItems(o.Items...)
	}
	return ec
}

func (h *Handler) writeApplyError(ctx context.Context, w http.ResponseWriter, err error) {
	var notMet *promotion.ConditionsNotMetError
	switch {
	case errors.As(err, &notMet):
		writeError(w, http.StatusBadRequest, "Conditions not met, check the promotion's conditions",
			func(e *jx.Encoder) {
				e.FieldStart("unmetConditions")
				e.ArrStart()
				for _, u := range notMet.Unmet {
					e.ObjStart()
					e.FieldStart("field")
					e.Str(string(u.Field))
					e.FieldStart("message")
					e.Str(u.Message)
					e.ObjEnd()
				}
				e.ArrEnd()
			})
	case errors.Is(err, promotion.ErrPromotionNotFound):
		writeError(w, http.StatusBadRequest, "Invalid promotion code")
	case errors.Is(err, promotion.ErrUsageLimitExceeded):
		writeError(w, http.StatusForbidden, "Promotion usage limit reached")
	case errors.Is(err, promotion.ErrPromotionExpired):
		writeError(w, http.StatusGone, "Promotion is not valid at this time")
	default:
		h.internalError(ctx, w, "Apply promotion failed", err)
	}
}

// GetPromotion handles GET /api/v1/promotions/{id}.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.promotions.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, promotion.ErrPromotionNotFound) {
			writeError(w, http.StatusNotFound, "Promotion not found")
			return
		}
		h.internalError(r.Context(), w, "Promotion lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		promotion.EncodePromotion(e, p)
	})
}

// ListPromotions handles GET /api/v1/promotions.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	list, err := h.promotions.ListActive(r.Context())
	if err != nil {
		h.internalError(r.Context(), w, "List promotions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			promotion.EncodePromotion(e, &list[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	zctx.From(ctx).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
