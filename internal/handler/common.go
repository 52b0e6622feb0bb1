package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/coupon"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

// requesterID extracts the authenticated user id injected by the JWT
// middleware.  Returns false when the request is not authenticated.
func requesterID(c echo.Context) (string, bool) {
	s, ok := c.Get("user_id").(string)
	return s, ok && s != ""
}

func isAdmin(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == model.RoleAdmin
}

func isPremium(c echo.Context) bool {
	p, _ := c.Get("premium").(bool)
	return p
}

// writeBookingError translates engine errors into HTTP responses.
// Business rejections keep their payload (conflicting seats, available
// stock, Spanish coupon reasons) so clients can react; contention maps
// to 503 and is explicitly marked retryable.
func writeBookingError(c echo.Context, err error) error {
	var (
		seatConflict *booking.SeatConflictError
		stock        *booking.InsufficientStockError
		product      *booking.ProductError
		transition   *booking.InvalidTransitionError
		rejection    *coupon.Rejection
	)
	switch {
	case errors.As(err, &seatConflict):
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "seat_conflict",
			"seats": seatConflict.Labels,
		})
	case errors.As(err, &stock):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":      "insufficient_stock",
			"product_id": stock.ProductID,
			"product":    stock.Name,
			"available":  stock.Available,
			"requested":  stock.Requested,
		})
	case errors.As(err, &product):
		status := http.StatusBadRequest
		if product.Step == "not_found" {
			status = http.StatusNotFound
		}
		return c.JSON(status, echo.Map{
			"error":      "invalid_product",
			"reason":     product.Step,
			"product_id": product.ProductID,
			"message":    product.Error(),
		})
	case errors.As(err, &rejection):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":  "coupon_rejected",
			"code":   rejection.Code,
			"reason": rejection.Reason,
		})
	case errors.As(err, &transition):
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "invalid_transition",
			"from":  transition.From,
			"to":    transition.To,
		})
	case errors.Is(err, booking.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrShowtimeNotFound),
		errors.Is(err, booking.ErrTicketNotFound),
		errors.Is(err, booking.ErrOrderNotFound),
		errors.Is(err, booking.ErrCouponNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, booking.ErrNotPaid),
		errors.Is(err, booking.ErrAlreadyRedeemed),
		errors.Is(err, booking.ErrAlreadyCancelled):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, store.ErrContention):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"error":     "resource_contention",
			"message":   "too many concurrent purchases, please retry",
			"retryable": true,
		})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// publicUser strips credentials from a user record for responses.
func publicUser(u *model.User) echo.Map {
	return echo.Map{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"role":       u.Role,
		"premium":    u.Premium,
		"created_at": u.CreatedAt,
	}
}
