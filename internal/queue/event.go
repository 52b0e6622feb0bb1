// Package queue defines message payloads exchanged over the message
// broker and the publisher/consumer pair that moves them.  Events are
// emitted strictly after the owning transaction committed; consumers
// read the record, they never mutate it.
package queue

// Queue names.  Durable, declared idempotently by both ends.
const (
	TicketConfirmedQueue = "ticket.confirmed"
	OrderCreatedQueue    = "order.created"
)

// TicketConfirmedEvent is published when a seat reservation commits
// with status confirmado.  It carries enough for downstream consumers
// to notify or log without querying the store.
type TicketConfirmedEvent struct {
	TicketID      string   `json:"ticket_id"`
	UserID        string   `json:"user_id"`
	ShowtimeID    string   `json:"showtime_id"`
	Seats         []string `json:"seats"`
	TotalCents    int64    `json:"total_cents"`
	PaymentMethod string   `json:"payment_method"`
	ConfirmedAt   string   `json:"confirmed_at"`
}

// OrderCreatedEvent is published when a candy order commits.  The
// redemption code is included so the notifier can render the QR
// without another lookup.
type OrderCreatedEvent struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	RedeemCode    string `json:"redeem_code"`
	TotalCents    int64  `json:"total_cents"`
	PaymentStatus string `json:"payment_status"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}
