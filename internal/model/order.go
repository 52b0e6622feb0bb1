package model

import "time"

// PaymentStatus enumerates the payment states of a candy order.  The
// Spanish values are stored and surfaced verbatim.
type PaymentStatus string

const (
	PaymentPaid      PaymentStatus = "PAGADO"
	PaymentPending   PaymentStatus = "PENDIENTE"
	PaymentCancelled PaymentStatus = "CANCELADO"
)

// Valid reports whether s is one of the known payment states.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPaid, PaymentPending, PaymentCancelled:
		return true
	}
	return false
}

// RedeemStatus enumerates the redemption states of a candy order.
type RedeemStatus string

const (
	RedeemPending  RedeemStatus = "PENDIENTE"
	RedeemRedeemed RedeemStatus = "CANJEADO"
)

// OrderItem is one line of a candy order.  Unit price and subtotal are
// snapshots of the authoritative product prices at commit time.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Size           string `json:"size"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

// Order is a committed multi line candy shop purchase.  It is created
// atomically with the stock decrements for every line item, carries a
// unique redemption code, and then moves through the payment/redeem
// state machine.  Once RedeemStatus is CANJEADO the record is frozen:
// it can no longer be cancelled or otherwise transitioned.
//
// Fields:
//  ID              – document identifier.
//  UserID          – authenticated requester.
//  Items           – line item snapshots.
//  SubtotalCents   – sum of item subtotals.
//  DiscountCents   – discount applied by a coupon, zero when none.
//  ServiceFeeCents – flat service fee added by the caller's flow.
//  TotalCents      – subtotal minus discount plus fee.
//  PaymentMethod   – mercadopago, efectivo, ...
//  PaymentStatus   – PAGADO, PENDIENTE or CANCELADO.
//  PaymentID       – external payment identifier when already paid.
//  RedeemCode      – 8 character code presented at the counter.
//  RedeemStatus    – PENDIENTE or CANJEADO.
//  RedeemedAt      – set when the code is redeemed.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last state change timestamp.
//  CancelledAt     – set when the order is cancelled.
//  CancelReason    – optional reason recorded at cancellation.
type Order struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Items           []OrderItem   `json:"items"`
	SubtotalCents   int64         `json:"subtotal_cents"`
	DiscountCents   int64         `json:"discount_cents"`
	ServiceFeeCents int64         `json:"service_fee_cents"`
	TotalCents      int64         `json:"total_cents"`
	PaymentMethod   string        `json:"payment_method"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentID       string        `json:"payment_id,omitempty"`
	RedeemCode      string        `json:"redeem_code"`
	RedeemStatus    RedeemStatus  `json:"redeem_status"`
	RedeemedAt      *time.Time    `json:"redeemed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason    string        `json:"cancel_reason,omitempty"`
}
