package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/coupon"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

// CouponHandler serves the customer-facing validation endpoint and the
// admin coupon CRUD.
type CouponHandler struct {
	Svc   *booking.Service
	Store store.Store
	Log   zerolog.Logger
}

type validateCouponRequest struct {
	Code         string `json:"code"`
	PurchaseType string `json:"purchase_type"`
}

// Validate checks a code for the caller before checkout.  The response
// is always 200: valid plus the coupon, or invalid plus the Spanish
// reason the UI shows verbatim.  Amount checks need a cart, so they
// happen at checkout, not here.
func (h *CouponHandler) Validate(c echo.Context) error {
	var req validateCouponRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusOK, echo.Map{
			"valid":  false,
			"reason": "Debe ingresar un código de cupón",
		})
	}
	purchase := coupon.PurchaseType(req.PurchaseType)
	if purchase != coupon.PurchaseTickets && purchase != coupon.PurchaseCandyShop {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "purchase_type must be tickets or candyshop"})
	}

	cp, err := h.Svc.ValidateCoupon(c.Request().Context(), req.Code, purchase, isPremium(c))
	var rejection *coupon.Rejection
	switch {
	case errors.Is(err, booking.ErrCouponNotFound):
		return c.JSON(http.StatusOK, echo.Map{
			"valid":  false,
			"reason": "Cupón no encontrado",
		})
	case errors.As(err, &rejection):
		return c.JSON(http.StatusOK, echo.Map{
			"valid":  false,
			"reason": rejection.Reason,
		})
	case err != nil:
		h.Log.Error().Err(err).Msg("validate coupon")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, echo.Map{"valid": true, "coupon": cp})
}

type couponRequest struct {
	Code             string     `json:"code"`
	Scope            string     `json:"scope"`
	Mode             string     `json:"mode"`
	Value            int64      `json:"value"`
	BuyQuantity      int64      `json:"buy_quantity"`
	PayQuantity      int64      `json:"pay_quantity"`
	PremiumOnly      bool       `json:"premium_only"`
	MinAmountCents   int64      `json:"min_amount_cents"`
	MaxDiscountCents int64      `json:"max_discount_cents"`
	Active           *bool      `json:"active"`
	ValidFrom        *time.Time `json:"valid_from"`
	ValidTo          *time.Time `json:"valid_to"`
}

func (r *couponRequest) validate() string {
	if strings.TrimSpace(r.Code) == "" {
		return "code is required"
	}
	return r.rules()
}

// rules checks everything except the code, which updates take from
// the path instead of the body.
func (r *couponRequest) rules() string {
	switch model.CouponScope(r.Scope) {
	case model.ScopeTickets, model.ScopeCandyShop, model.ScopeBoth:
	default:
		return "scope must be tickets, candyshop or both"
	}
	switch model.CouponMode(r.Mode) {
	case model.ModeFixed:
		if r.Value <= 0 {
			return "fixed coupons need a positive value in cents"
		}
	case model.ModePercent:
		if r.Value < 0 || r.Value > 100 {
			return "percent value must be between 0 and 100"
		}
	case model.ModeTwoForOne, model.ModeThreeForTwo:
		if (r.BuyQuantity == 0) != (r.PayQuantity == 0) {
			return "buy_quantity and pay_quantity must be set together"
		}
		if r.BuyQuantity != 0 && r.PayQuantity >= r.BuyQuantity {
			return "pay_quantity must be lower than buy_quantity"
		}
	default:
		return "mode must be fixed, percent, 2x1 or 3x2"
	}
	if r.MinAmountCents < 0 || r.MaxDiscountCents < 0 {
		return "limits cannot be negative"
	}
	return ""
}

// Create registers a coupon.  Admin only.  Percent values are bounded
// here once; the discount engine trusts stored coupons.
func (h *CouponHandler) Create(c echo.Context) error {
	var req couponRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cp := &model.Coupon{
		ID:               uuid.NewString(),
		Code:             code,
		Scope:            model.CouponScope(req.Scope),
		Mode:             model.CouponMode(req.Mode),
		Value:            req.Value,
		BuyQuantity:      req.BuyQuantity,
		PayQuantity:      req.PayQuantity,
		PremiumOnly:      req.PremiumOnly,
		MinAmountCents:   req.MinAmountCents,
		MaxDiscountCents: req.MaxDiscountCents,
		Active:           active,
		CreatedAt:        time.Now().UTC(),
		ValidFrom:        req.ValidFrom,
		ValidTo:          req.ValidTo,
	}

	err := h.Store.RunTransaction(c.Request().Context(), func(tx store.Tx) error {
		if _, err := tx.CouponByCode(code); err == nil {
			return errCouponExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		tx.PutCoupon(cp)
		return nil
	})
	switch {
	case errors.Is(err, errCouponExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "coupon code already exists"})
	case err != nil:
		h.Log.Error().Err(err).Msg("create coupon")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Log.Info().Str("code", code).Str("mode", req.Mode).Msg("coupon created")
	return c.JSON(http.StatusCreated, echo.Map{"coupon": cp})
}

var errCouponExists = errors.New("coupon exists")

// Update replaces a coupon's terms in place.  Admin only.  The code in
// the path is authoritative and cannot be changed: orders already
// carrying it would otherwise dangle.
func (h *CouponHandler) Update(c echo.Context) error {
	var req couponRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.rules(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	var updated *model.Coupon
	err := h.Store.RunTransaction(c.Request().Context(), func(tx store.Tx) error {
		cp, err := tx.CouponByCode(code)
		if err != nil {
			return err
		}
		cp.Scope = model.CouponScope(req.Scope)
		cp.Mode = model.CouponMode(req.Mode)
		cp.Value = req.Value
		cp.BuyQuantity = req.BuyQuantity
		cp.PayQuantity = req.PayQuantity
		cp.PremiumOnly = req.PremiumOnly
		cp.MinAmountCents = req.MinAmountCents
		cp.MaxDiscountCents = req.MaxDiscountCents
		if req.Active != nil {
			cp.Active = *req.Active
		}
		cp.ValidFrom = req.ValidFrom
		cp.ValidTo = req.ValidTo
		tx.PutCoupon(cp)
		updated = cp
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "coupon not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("update coupon")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Log.Info().Str("code", code).Msg("coupon updated")
	return c.JSON(http.StatusOK, echo.Map{"coupon": updated})
}

// Toggle flips a coupon's active flag without touching its terms.
// Admin only.
func (h *CouponHandler) Toggle(c echo.Context) error {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	var updated *model.Coupon
	err := h.Store.RunTransaction(c.Request().Context(), func(tx store.Tx) error {
		cp, err := tx.CouponByCode(code)
		if err != nil {
			return err
		}
		cp.Active = !cp.Active
		tx.PutCoupon(cp)
		updated = cp
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "coupon not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("toggle coupon")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Log.Info().Str("code", code).Bool("active", updated.Active).Msg("coupon toggled")
	return c.JSON(http.StatusOK, echo.Map{"coupon": updated})
}

// List returns all coupons.  Admin only.
func (h *CouponHandler) List(c echo.Context) error {
	coupons, err := h.Store.ListCoupons(c.Request().Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("list coupons")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"coupons": coupons})
}

// Delete removes a coupon by code.  Admin only.
func (h *CouponHandler) Delete(c echo.Context) error {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	err := h.Store.RunTransaction(c.Request().Context(), func(tx store.Tx) error {
		return tx.DeleteCoupon(code)
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "coupon not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("delete coupon")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.NoContent(http.StatusNoContent)
}
