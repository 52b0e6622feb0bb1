// Package coupon computes discounts.  It is deliberately pure: no
// clock, no store, no context — every input arrives as an argument,
// so the same call always produces the same answer.
package coupon

import (
	"time"

	"github.com/butaca/booking/internal/model"
)

// PurchaseType tells the engine which flow the coupon is applied to.
type PurchaseType string

const (
	PurchaseTickets   PurchaseType = "tickets"
	PurchaseCandyShop PurchaseType = "candyshop"
)

// Rejection is a terminal, deterministic reason a coupon does not
// apply.  Code is stable for programmatic matching; Reason is the
// user-facing Spanish message surfaced verbatim by the API.
type Rejection struct {
	Code   string
	Reason string
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Reason }

// The engine's pre-checks, in evaluation order.  They are values, not
// constructors, so errors.Is works on them directly.
var (
	ErrInactive        = &Rejection{"Inactive", "El cupón no está activo"}
	ErrScopeMismatch   = &Rejection{"ScopeMismatch", "El cupón no aplica para este tipo de compra"}
	ErrNotYetValid     = &Rejection{"NotYetValid", "El cupón aún no está disponible"}
	ErrExpired         = &Rejection{"Expired", "El cupón ya expiró"}
	ErrPremiumRequired = &Rejection{"PremiumRequired", "Este cupón es exclusivo para usuarios premium"}
	ErrBelowMinimum    = &Rejection{"BelowMinimum", "El monto no alcanza el mínimo del cupón"}
)

// Input is everything Compute needs besides the coupon itself.  Now
// is passed in rather than read from the clock so validity windows
// are testable and the function stays referentially transparent.
type Input struct {
	Purchase      PurchaseType
	SubtotalCents int64
	UnitCount     int64
	Premium       bool
	Now           time.Time
}

// Validate runs the pre-checks that do not depend on a cart: active
// flag, scope, validity window and premium gating.  The coupon
// validation endpoint uses it directly, since at that point no
// subtotal exists yet; Compute additionally enforces the minimum
// amount.
func Validate(c *model.Coupon, purchase PurchaseType, premium bool, now time.Time) error {
	if !c.Active {
		return ErrInactive
	}
	if c.Scope != model.ScopeBoth && string(c.Scope) != string(purchase) {
		return ErrScopeMismatch
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrNotYetValid
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		return ErrExpired
	}
	if c.PremiumOnly && !premium {
		return ErrPremiumRequired
	}
	return nil
}

// Compute returns the discount in cents for applying c to a purchase,
// or a *Rejection explaining why the coupon does not apply at all.
//
// A result of 0 with a nil error is success: the coupon is valid but
// earns nothing yet (an N-for-M cart below the buy threshold).
// Callers surface that as "coupon valid, no discount applies", never
// as a rejection.
func Compute(c *model.Coupon, in Input) (int64, error) {
	if err := Validate(c, in.Purchase, in.Premium, in.Now); err != nil {
		return 0, err
	}
	if c.MinAmountCents > 0 && in.SubtotalCents < c.MinAmountCents {
		return 0, ErrBelowMinimum
	}

	var discount int64
	switch c.Mode {
	case model.ModeFixed:
		discount = c.Value
		if discount > in.SubtotalCents {
			discount = in.SubtotalCents
		}
	case model.ModePercent:
		// Value is validated into [0,100] at coupon creation; an
		// out-of-range stored value is a data bug, not re-clamped here.
		discount = in.SubtotalCents * c.Value / 100
	case model.ModeTwoForOne, model.ModeThreeForTwo:
		buy, pay := c.Promo()
		if in.UnitCount < buy {
			return 0, nil
		}
		promos := in.UnitCount / buy
		freeUnits := promos * (buy - pay)
		// Mixed-price carts are discounted at the blended average
		// unit price.
		discount = freeUnits * (in.SubtotalCents / in.UnitCount)
	default:
		return 0, ErrInactive
	}

	if c.MaxDiscountCents > 0 && discount > c.MaxDiscountCents {
		discount = c.MaxDiscountCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}
