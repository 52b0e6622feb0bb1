package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/coupon"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

// TicketHandler serves seat reservations: checkout, listing and
// cancellation.
type TicketHandler struct {
	Svc *booking.Service
	Log zerolog.Logger
}

type reserveRequest struct {
	ShowtimeID    string   `json:"showtime_id"`
	Seats         []string `json:"seats"`
	PaymentMethod string   `json:"payment_method"`
	CouponCode    string   `json:"coupon_code"`
	Status        string   `json:"status"`
}

// Reserve claims the requested seats and creates the ticket.  Pricing
// is authoritative server side: seats times the showtime's base price,
// minus the coupon discount when a ticket-scope coupon is applied.
// Seat conflicts come back as 409 naming exactly the contested labels.
func (h *TicketHandler) Reserve(c echo.Context) error {
	userID, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(req.Seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats are required"})
	}

	ctx := c.Request().Context()
	st, err := h.Svc.Reader().GetShowtime(ctx, req.ShowtimeID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("load showtime for checkout")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	subtotal := st.BasePriceCents * int64(len(req.Seats))
	var discount int64
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		cp, err := h.Svc.ValidateCoupon(ctx, code, coupon.PurchaseTickets, isPremium(c))
		if err != nil {
			return writeBookingError(c, err)
		}
		discount, err = coupon.Compute(cp, coupon.Input{
			Purchase:      coupon.PurchaseTickets,
			SubtotalCents: subtotal,
			UnitCount:     int64(len(req.Seats)),
			Premium:       isPremium(c),
			Now:           time.Now(),
		})
		if err != nil {
			return writeBookingError(c, err)
		}
		if discount > subtotal {
			discount = subtotal
		}
	}

	ticket, err := h.Svc.ReserveSeats(ctx, booking.ReserveSeatsInput{
		ShowtimeID:    req.ShowtimeID,
		UserID:        userID,
		Seats:         req.Seats,
		TotalCents:    subtotal - discount,
		PaymentMethod: req.PaymentMethod,
		Status:        model.TicketStatus(req.Status),
	})
	if err != nil {
		return writeBookingError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"ticket":         ticket,
		"subtotal_cents": subtotal,
		"discount_cents": discount,
	})
}

// Mine lists the caller's tickets, newest first.
func (h *TicketHandler) Mine(c echo.Context) error {
	userID, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	tickets, err := h.Svc.Reader().ListTicketsByUser(c.Request().Context(), userID)
	if err != nil {
		h.Log.Error().Err(err).Msg("list tickets")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}

// Get returns one ticket.  Customers only see their own; admins see
// everything.
func (h *TicketHandler) Get(c echo.Context) error {
	userID, _ := requesterID(c)
	t, err := h.Svc.Reader().GetTicket(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("get ticket")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if t.UserID != userID && !isAdmin(c) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket": t})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel releases the ticket's seats and marks it cancelado.
func (h *TicketHandler) Cancel(c echo.Context) error {
	userID, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req cancelRequest
	_ = c.Bind(&req)

	t, err := h.Svc.CancelTicket(c.Request().Context(), c.Param("id"), booking.CancelTicketInput{
		RequesterID: userID,
		Admin:       isAdmin(c),
		Reason:      req.Reason,
	})
	if err != nil {
		return writeBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket": t})
}
