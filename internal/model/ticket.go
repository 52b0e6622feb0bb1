package model

import "time"

// TicketStatus enumerates the lifecycle states of a ticket.  The
// values are kept in Spanish because they are stored verbatim and
// surfaced to clients unchanged.
type TicketStatus string

const (
	TicketConfirmed TicketStatus = "confirmado"
	TicketPending   TicketStatus = "pendiente"
	TicketCancelled TicketStatus = "cancelado"
)

// Valid reports whether s is one of the known ticket states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketConfirmed, TicketPending, TicketCancelled:
		return true
	}
	return false
}

// Ticket records a committed seat reservation for one showtime.  It is
// created once, atomically with the seat claim, and afterwards only
// its Status may change (confirmation or cancellation).  The seat list
// is a snapshot; cancelling the ticket releases exactly these labels.
//
// Fields:
//  ID            – document identifier.
//  UserID        – authenticated requester who booked the seats.
//  ShowtimeID    – showtime the seats belong to.
//  Seats         – seat labels claimed by this ticket.
//  TotalCents    – final price paid, in cents, after any discount.
//  PaymentMethod – free form payment method label supplied by the caller.
//  Status        – confirmado, pendiente or cancelado.
//  CreatedAt     – creation timestamp.
//  CancelledAt   – set when the ticket is cancelled.
//  CancelReason  – optional reason recorded at cancellation.
type Ticket struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	ShowtimeID    string       `json:"showtime_id"`
	Seats         []string     `json:"seats"`
	TotalCents    int64        `json:"total_cents"`
	PaymentMethod string       `json:"payment_method"`
	Status        TicketStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason  string       `json:"cancel_reason,omitempty"`
}
