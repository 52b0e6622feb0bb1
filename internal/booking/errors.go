package booking

import (
	"errors"
	"fmt"
	"strings"
)

// Business rejections are terminal and deterministic: handlers return
// them to the caller verbatim so the client can react (re-select
// seats, reduce a quantity, fix a price).  They are never retried.
// Transient contention is a different animal entirely and surfaces as
// store.ErrContention.
var (
	// ErrShowtimeNotFound is returned when the referenced showtime
	// does not exist, including during ticket cancellation: a missing
	// showtime aborts the cancellation loudly rather than silently
	// releasing nothing.
	ErrShowtimeNotFound = errors.New("showtime not found")

	// ErrTicketNotFound is returned when the referenced ticket does
	// not exist.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrOrderNotFound is returned when no order matches the given
	// id or redemption code.
	ErrOrderNotFound = errors.New("order not found")

	// ErrCouponNotFound is returned when no coupon matches the given
	// code.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrForbidden is returned when the requester does not own the
	// resource the operation targets. Handlers translate it into 403.
	ErrForbidden = errors.New("forbidden")

	// ErrNotPaid rejects redemption of an order whose payment status
	// is not PAGADO.
	ErrNotPaid = errors.New("order is not paid")

	// ErrAlreadyRedeemed rejects a second redemption of the same code
	// and any attempt to cancel a redeemed order. CANJEADO is
	// terminal.
	ErrAlreadyRedeemed = errors.New("order already redeemed")

	// ErrAlreadyCancelled rejects repeated cancellation of a ticket
	// or an order.
	ErrAlreadyCancelled = errors.New("already cancelled")

	// ErrInvalidRequest wraps input validation failures (empty seat
	// list, duplicate labels, non-positive quantity or price).
	ErrInvalidRequest = errors.New("invalid request")
)

// SeatConflictError reports which requested seat labels were already
// occupied.  The labels travel with the error so the client can
// highlight exactly the seats to re-select.
type SeatConflictError struct {
	ShowtimeID string
	Labels     []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats already occupied on showtime %s: %s",
		e.ShowtimeID, strings.Join(e.Labels, ", "))
}

// ProductError identifies a single offending line item.  Step is one
// of the validation stages of order creation, in the order they are
// checked: not_found, inactive, invalid_variant, price_mismatch.
type ProductError struct {
	Step      string
	ProductID string
	Name      string
	Size      string
}

func (e *ProductError) Error() string {
	switch e.Step {
	case "not_found":
		return fmt.Sprintf("product %s not found", e.ProductID)
	case "inactive":
		return fmt.Sprintf("product %s is not available", e.Name)
	case "invalid_variant":
		return fmt.Sprintf("product %s has no size %q", e.Name, e.Size)
	case "price_mismatch":
		return fmt.Sprintf("price for product %s size %q does not match", e.Name, e.Size)
	}
	return fmt.Sprintf("product %s rejected", e.ProductID)
}

// InsufficientStockError carries the amount actually available so the
// client can offer it.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.Name, e.Requested, e.Available)
}

// InvalidTransitionError rejects a state change the machine does not
// allow, e.g. reviving a cancelled order.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
