package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/model"
)

// AdminHandler covers back-office views and the administrative state
// machine endpoints.  All routes behind it require the admin role.
type AdminHandler struct {
	Svc *booking.Service
	Log zerolog.Logger
}

// ListOrders returns every candy order, newest first.
func (h *AdminHandler) ListOrders(c echo.Context) error {
	orders, err := h.Svc.Reader().ListOrders(c.Request().Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("admin list orders")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

// ListTickets returns tickets, filtered by ?showtime_id= when given.
func (h *AdminHandler) ListTickets(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		tickets []model.Ticket
		err     error
	)
	if showtimeID := c.QueryParam("showtime_id"); showtimeID != "" {
		tickets, err = h.Svc.Reader().ListTicketsByShowtime(ctx, showtimeID)
	} else {
		tickets, err = h.Svc.Reader().ListTickets(ctx)
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("admin list tickets")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetPaymentStatus applies an administrative payment transition.
// Setting CANCELADO cancels the order and restores its stock.
func (h *AdminHandler) SetPaymentStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil || req.Status == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status is required"})
	}
	o, err := h.Svc.SetOrderPaymentStatus(c.Request().Context(), c.Param("id"), model.PaymentStatus(req.Status))
	if err != nil {
		return writeBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

// SetRedeemStatus applies an administrative redemption transition.
// The only legal move is PENDIENTE to CANJEADO on a paid order.
func (h *AdminHandler) SetRedeemStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil || req.Status == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status is required"})
	}
	o, err := h.Svc.SetOrderRedeemStatus(c.Request().Context(), c.Param("id"), model.RedeemStatus(req.Status))
	if err != nil {
		return writeBookingError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order": o})
}

// Summary aggregates sales counters for the back-office dashboard.
func (h *AdminHandler) Summary(c echo.Context) error {
	ctx := c.Request().Context()
	orders, err := h.Svc.Reader().ListOrders(ctx)
	if err != nil {
		h.Log.Error().Err(err).Msg("admin summary orders")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	tickets, err := h.Svc.Reader().ListTickets(ctx)
	if err != nil {
		h.Log.Error().Err(err).Msg("admin summary tickets")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	var (
		orderRevenue, ticketRevenue int64
		paid, pending, cancelled    int
		redeemed                    int
	)
	for _, o := range orders {
		switch o.PaymentStatus {
		case model.PaymentPaid:
			paid++
			orderRevenue += o.TotalCents
		case model.PaymentPending:
			pending++
		case model.PaymentCancelled:
			cancelled++
		}
		if o.RedeemStatus == model.RedeemRedeemed {
			redeemed++
		}
	}
	var activeTickets int
	for _, t := range tickets {
		if t.Status != model.TicketCancelled {
			activeTickets++
			ticketRevenue += t.TotalCents
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"orders": echo.Map{
			"total":         len(orders),
			"paid":          paid,
			"pending":       pending,
			"cancelled":     cancelled,
			"redeemed":      redeemed,
			"revenue_cents": orderRevenue,
		},
		"tickets": echo.Map{
			"total":         len(tickets),
			"active":        activeTickets,
			"revenue_cents": ticketRevenue,
		},
	})
}
