package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

// OrderHandler serves the candy shop checkout, order lookups and the
// counter-side redemption endpoint.
type OrderHandler struct {
	Svc *booking.Service
	Log zerolog.Logger
}

type orderItemRequest struct {
	ProductID      string `json:"product_id"`
	Size           string `json:"size"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items"`
	CouponCode      string             `json:"coupon_code"`
	ServiceFeeCents int64              `json:"service_fee_cents"`
	PaymentMethod   string             `json:"payment_method"`
	PaymentStatus   string             `json:"payment_status"`
	PaymentID       string             `json:"payment_id"`
}

// Create places a candy order.  Every line is validated against the
// live catalogue and all stock decrements commit atomically; a single
// bad line rejects the whole order.  Requests carrying a payment_id
// are idempotent.
func (h *OrderHandler) Create(c echo.Context) error {
	userID, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.ServiceFeeCents < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "service_fee_cents cannot be negative"})
	}

	items := make([]booking.OrderItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, booking.OrderItemInput{
			ProductID:      it.ProductID,
			Size:           it.Size,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
		})
	}

	order, err := h.Svc.CreateOrder(c.Request().Context(), booking.CreateOrderInput{
		UserID:          userID,
		Items:           items,
		CouponCode:      req.CouponCode,
		ServiceFeeCents: req.ServiceFeeCents,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   model.PaymentStatus(req.PaymentStatus),
		PaymentID:       req.PaymentID,
		Premium:         isPremium(c),
	})
	if err != nil {
		return writeBookingError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"order": order})
}

// Mine lists the caller's orders, newest first.
func (h *OrderHandler) Mine(c echo.Context) error {
	userID, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orders, err := h.Svc.Reader().ListOrdersByUser(c.Request().Context(), userID)
	if err != nil {
		h.Log.Error().Err(err).Msg("list orders")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

// Get returns one order by id.  Customers only see their own.
func (h *OrderHandler) Get(c echo.Context) error {
	userID, _ := requesterID(c)
	o, err := h.Svc.Reader().GetOrder(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("get order")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if o.UserID != userID && !isAdmin(c) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

// ByCode looks an order up by redemption code.  Counter staff use it
// to preview an order before redeeming, so it is admin only.
func (h *OrderHandler) ByCode(c echo.Context) error {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	o, err := h.Svc.Reader().GetOrderByRedeemCode(c.Request().Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("get order by code")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

// ByPaymentID looks an order up by the external payment identifier.
// Used by back office when reconciling provider payments.  Admin only.
func (h *OrderHandler) ByPaymentID(c echo.Context) error {
	o, err := h.Svc.Reader().GetOrderByPaymentID(c.Request().Context(), c.Param("payment_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("get order by payment id")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

type redeemRequest struct {
	Code string `json:"code"`
}

// Redeem hands the order over the counter: PENDIENTE flips to CANJEADO
// exactly once.  Requires the order to be PAGADO.  Admin only.
func (h *OrderHandler) Redeem(c echo.Context) error {
	var req redeemRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}
	o, err := h.Svc.RedeemOrder(c.Request().Context(), req.Code)
	if err != nil {
		return writeBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

// Cancel voids an order and restores its stock.  Owners may cancel
// their own unredeemed orders; admins may cancel any.
func (h *OrderHandler) Cancel(c echo.Context) error {
	userID, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req cancelRequest
	_ = c.Bind(&req)

	o, err := h.Svc.CancelOrder(c.Request().Context(), c.Param("id"), booking.CancelOrderInput{
		RequesterID: userID,
		Admin:       isAdmin(c),
		Reason:      req.Reason,
	})
	if err != nil {
		return writeBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}
