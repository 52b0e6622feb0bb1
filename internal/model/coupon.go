package model

import "time"

// CouponScope restricts a coupon to one purchase path.
type CouponScope string

const (
	ScopeTickets   CouponScope = "tickets"
	ScopeCandyShop CouponScope = "candyshop"
	ScopeBoth      CouponScope = "both"
)

// CouponMode selects the discount calculation.
type CouponMode string

const (
	ModeFixed       CouponMode = "fixed"
	ModePercent     CouponMode = "percent"
	ModeTwoForOne   CouponMode = "2x1"
	ModeThreeForTwo CouponMode = "3x2"
)

// Coupon is an immutable input to the discount engine.  Codes are
// stored upper case and matched case insensitively.  Value carries
// cents for fixed mode and percentage points (0..100) for percent
// mode; percent values are validated at creation time, the engine does
// not re-clamp them.  BuyQuantity/PayQuantity generalize the NxM
// modes; when unset they default to (2,1) for 2x1 and (3,2) for 3x2.
// MinAmountCents and MaxDiscountCents of zero mean "no limit".
type Coupon struct {
	ID               string      `json:"id"`
	Code             string      `json:"code"`
	Scope            CouponScope `json:"scope"`
	Mode             CouponMode  `json:"mode"`
	Value            int64       `json:"value,omitempty"`
	BuyQuantity      int64       `json:"buy_quantity,omitempty"`
	PayQuantity      int64       `json:"pay_quantity,omitempty"`
	PremiumOnly      bool        `json:"premium_only"`
	MinAmountCents   int64       `json:"min_amount_cents,omitempty"`
	MaxDiscountCents int64       `json:"max_discount_cents,omitempty"`
	Active           bool        `json:"active"`
	CreatedAt        time.Time   `json:"created_at"`
	ValidFrom        *time.Time  `json:"valid_from,omitempty"`
	ValidTo          *time.Time  `json:"valid_to,omitempty"`
}

// Promo returns the effective buy/pay pair for the NxM modes, applying
// the per mode defaults when the quantities are unset.
func (c *Coupon) Promo() (buy, pay int64) {
	buy, pay = c.BuyQuantity, c.PayQuantity
	if buy <= 0 || pay <= 0 {
		switch c.Mode {
		case ModeTwoForOne:
			return 2, 1
		case ModeThreeForTwo:
			return 3, 2
		}
	}
	return buy, pay
}
