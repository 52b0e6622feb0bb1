// Package booking implements the reservation engine: seat
// reservations, stock-decrementing candy orders, coupon application,
// the redemption state machine and the compensating cancellations.
// All mutations run inside store transactions, so every guarantee
// here holds under concurrent requests.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/coupon"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

// EventPublisher receives committed records after their transaction
// succeeded.  Publishing is strictly post-commit and best effort: a
// failed publish is logged, never rolled back into the purchase.
type EventPublisher interface {
	TicketConfirmed(ctx context.Context, t *model.Ticket) error
	OrderCreated(ctx context.Context, o *model.Order) error
}

// NopPublisher drops all events. Used in tests and in deployments
// without a broker.
type NopPublisher struct{}

func (NopPublisher) TicketConfirmed(context.Context, *model.Ticket) error { return nil }
func (NopPublisher) OrderCreated(context.Context, *model.Order) error     { return nil }

// maxCodeAttempts bounds redemption-code regeneration inside a single
// transaction attempt. With a 32^8 code space this never triggers in
// practice.
const maxCodeAttempts = 5

// Service exposes the booking operations. It is safe for concurrent
// use; all state lives in the store.
type Service struct {
	store store.Store
	pub   EventPublisher
	log   zerolog.Logger

	now func() time.Time
}

// NewService wires the engine to its store and event publisher.
func NewService(st store.Store, pub EventPublisher, log zerolog.Logger) *Service {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Service{store: st, pub: pub, log: log, now: time.Now}
}

// Reader exposes the store's read-only surface for handlers that only
// list or fetch records.
func (s *Service) Reader() store.Reader { return s.store }

// ReserveSeatsInput describes one seat reservation request.  Status
// defaults to confirmado; pending is used by flows that await an
// external payment confirmation.
type ReserveSeatsInput struct {
	ShowtimeID    string
	UserID        string
	Seats         []string
	TotalCents    int64
	PaymentMethod string
	Status        model.TicketStatus
}

// ReserveSeats atomically claims the requested seat labels on the
// showtime and creates the ticket.  If any requested label is already
// occupied the whole request fails with *SeatConflictError naming
// exactly the contested labels; no seat is claimed.  Under concurrent
// reservations for overlapping labels exactly one request commits per
// label.
func (s *Service) ReserveSeats(ctx context.Context, in ReserveSeatsInput) (*model.Ticket, error) {
	if len(in.Seats) == 0 {
		return nil, fmt.Errorf("%w: seat list is empty", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(in.Seats))
	for _, label := range in.Seats {
		if label == "" || seen[label] {
			return nil, fmt.Errorf("%w: seat labels must be unique and non-empty", ErrInvalidRequest)
		}
		seen[label] = true
	}
	if in.TotalCents <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidRequest)
	}
	status := in.Status
	if status == "" {
		status = model.TicketConfirmed
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown ticket status", ErrInvalidRequest)
	}

	var ticket *model.Ticket
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		st, err := tx.Showtime(in.ShowtimeID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrShowtimeNotFound
		}
		if err != nil {
			return err
		}

		var conflicts []string
		for _, label := range in.Seats {
			if st.Occupied(label) {
				conflicts = append(conflicts, label)
			}
		}
		if len(conflicts) > 0 {
			return &SeatConflictError{ShowtimeID: in.ShowtimeID, Labels: conflicts}
		}

		st.OccupiedSeats = append(st.OccupiedSeats, in.Seats...)
		tx.PutShowtime(st)

		ticket = &model.Ticket{
			ID:            uuid.NewString(),
			UserID:        in.UserID,
			ShowtimeID:    in.ShowtimeID,
			Seats:         append([]string(nil), in.Seats...),
			TotalCents:    in.TotalCents,
			PaymentMethod: in.PaymentMethod,
			Status:        status,
			CreatedAt:     s.now(),
		}
		tx.PutTicket(ticket)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ticket_id", ticket.ID).
		Str("showtime_id", in.ShowtimeID).
		Strs("seats", in.Seats).
		Msg("seats reserved")

	if ticket.Status == model.TicketConfirmed {
		if err := s.pub.TicketConfirmed(ctx, ticket); err != nil {
			s.log.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("ticket event publish failed")
		}
	}
	return ticket, nil
}

// OrderItemInput is one requested line of a candy order.  The declared
// unit price is a consistency check against the authoritative product
// price table, never a price the client gets to set.
type OrderItemInput struct {
	ProductID      string
	Size           string
	UnitPriceCents int64
	Quantity       int64
}

// CreateOrderInput describes a candy order request.  When CouponCode
// is set the discount is computed server side against the validated
// subtotal; DiscountCents is only honored when no code is given (for
// flows where the discount was settled upstream).  PaymentStatus
// defaults to PENDIENTE; confirmed payment-provider flows pass PAGADO
// plus the provider's PaymentID.
type CreateOrderInput struct {
	UserID          string
	Items           []OrderItemInput
	CouponCode      string
	DiscountCents   int64
	ServiceFeeCents int64
	PaymentMethod   string
	PaymentStatus   model.PaymentStatus
	PaymentID       string
	Premium         bool
}

// CreateOrder validates every line item against live product state,
// decrements all stocks and persists the order in one transaction.
// Rejections are all-or-nothing: an order with one bad line leaves
// every product untouched.
//
// Orders carrying a PaymentID are idempotent: re-submitting an
// already-committed payment returns the existing order instead of
// decrementing stock twice.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidRequest)
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrInvalidRequest)
		}
	}
	payStatus := in.PaymentStatus
	if payStatus == "" {
		payStatus = model.PaymentPending
	}
	if !payStatus.Valid() || payStatus == model.PaymentCancelled {
		return nil, fmt.Errorf("%w: unknown payment status", ErrInvalidRequest)
	}

	var order *model.Order
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		// Idempotent re-entry for confirmed external payments.
		if in.PaymentID != "" {
			existing, err := tx.OrderByPaymentID(in.PaymentID)
			if err == nil {
				order = existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		// Products are read once per order even when several lines
		// reference the same product; decrements accumulate against
		// the staged copy so a duplicated product cannot sneak past
		// the stock check.
		staged := make(map[string]*model.Product)
		items := make([]model.OrderItem, 0, len(in.Items))
		var subtotal, unitCount int64

		for _, it := range in.Items {
			p, ok := staged[it.ProductID]
			if !ok {
				var err error
				p, err = tx.Product(it.ProductID)
				if errors.Is(err, store.ErrNotFound) {
					return &ProductError{Step: "not_found", ProductID: it.ProductID}
				}
				if err != nil {
					return err
				}
				staged[it.ProductID] = p
			}
			if !p.Active {
				return &ProductError{Step: "inactive", ProductID: p.ID, Name: p.Name}
			}
			price, ok := p.Prices[it.Size]
			if !ok {
				return &ProductError{Step: "invalid_variant", ProductID: p.ID, Name: p.Name, Size: it.Size}
			}
			if it.UnitPriceCents != price {
				return &ProductError{Step: "price_mismatch", ProductID: p.ID, Name: p.Name, Size: it.Size}
			}
			if p.Stock < it.Quantity {
				return &InsufficientStockError{
					ProductID: p.ID,
					Name:      p.Name,
					Available: p.Stock,
					Requested: it.Quantity,
				}
			}
			p.Stock -= it.Quantity

			items = append(items, model.OrderItem{
				ProductID:      p.ID,
				Name:           p.Name,
				Size:           it.Size,
				UnitPriceCents: price,
				Quantity:       it.Quantity,
				SubtotalCents:  price * it.Quantity,
			})
			subtotal += price * it.Quantity
			unitCount += it.Quantity
		}

		discount := in.DiscountCents
		if code := strings.TrimSpace(in.CouponCode); code != "" {
			c, err := tx.CouponByCode(code)
			if errors.Is(err, store.ErrNotFound) {
				return ErrCouponNotFound
			}
			if err != nil {
				return err
			}
			discount, err = coupon.Compute(c, coupon.Input{
				Purchase:      coupon.PurchaseCandyShop,
				SubtotalCents: subtotal,
				UnitCount:     unitCount,
				Premium:       in.Premium,
				Now:           s.now(),
			})
			if err != nil {
				return err
			}
		}
		if discount < 0 {
			discount = 0
		}
		if discount > subtotal {
			discount = subtotal
		}

		code, err := s.freshRedeemCode(tx)
		if err != nil {
			return err
		}

		now := s.now()
		order = &model.Order{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			Items:           items,
			SubtotalCents:   subtotal,
			DiscountCents:   discount,
			ServiceFeeCents: in.ServiceFeeCents,
			TotalCents:      subtotal - discount + in.ServiceFeeCents,
			PaymentMethod:   in.PaymentMethod,
			PaymentStatus:   payStatus,
			PaymentID:       in.PaymentID,
			RedeemCode:      code,
			RedeemStatus:    model.RedeemPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		p := make([]*model.Product, 0, len(staged))
		for _, sp := range staged {
			p = append(p, sp)
		}
		for _, sp := range p {
			sp.UpdatedAt = now
			tx.PutProduct(sp)
		}
		tx.PutOrder(order)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("user_id", order.UserID).
		Int64("total_cents", order.TotalCents).
		Msg("candy order created")

	if err := s.pub.OrderCreated(ctx, order); err != nil {
		s.log.Warn().Err(err).Str("order_id", order.ID).Msg("order event publish failed")
	}
	return order, nil
}

// freshRedeemCode generates codes until one is unused.  The check is
// conflict-protected by the transaction: two orders generating the
// same code race at commit, one retries and regenerates.
func (s *Service) freshRedeemCode(tx store.Tx) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := newRedeemCode()
		if err != nil {
			return "", err
		}
		taken, err := tx.RedeemCodeTaken(code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("booking: could not find a free redemption code")
}

// RedeemOrder marks the order behind code as CANJEADO.  Redemption
// requires PAGADO and happens exactly once: concurrent redeems of the
// same code yield one success, the rest fail ErrAlreadyRedeemed.
func (s *Service) RedeemOrder(ctx context.Context, code string) (*model.Order, error) {
	var order *model.Order
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		o, err := tx.OrderByRedeemCode(strings.ToUpper(strings.TrimSpace(code)))
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if o.RedeemStatus == model.RedeemRedeemed {
			return ErrAlreadyRedeemed
		}
		if o.PaymentStatus != model.PaymentPaid {
			return ErrNotPaid
		}
		now := s.now()
		o.RedeemStatus = model.RedeemRedeemed
		o.RedeemedAt = &now
		o.UpdatedAt = now
		tx.PutOrder(o)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", order.ID).Msg("order redeemed")
	return order, nil
}

// SetOrderPaymentStatus applies an administrative payment state
// change.  PENDIENTE and PAGADO flip freely; CANCELADO routes through
// CancelOrder so the stock restoration always happens; CANCELADO
// itself is terminal.
func (s *Service) SetOrderPaymentStatus(ctx context.Context, orderID string, to model.PaymentStatus) (*model.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status", ErrInvalidRequest)
	}
	if to == model.PaymentCancelled {
		return s.CancelOrder(ctx, orderID, CancelOrderInput{})
	}

	var order *model.Order
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		o, err := tx.Order(orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if o.PaymentStatus == model.PaymentCancelled || o.PaymentStatus == to {
			return &InvalidTransitionError{From: string(o.PaymentStatus), To: string(to)}
		}
		if o.RedeemStatus == model.RedeemRedeemed {
			// A redeemed order is frozen.
			return ErrAlreadyRedeemed
		}
		o.PaymentStatus = to
		o.UpdatedAt = s.now()
		tx.PutOrder(o)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", orderID).Str("payment_status", string(to)).Msg("payment status changed")
	return order, nil
}

// SetOrderRedeemStatus applies an administrative redemption state
// change.  The only legal transition is PENDIENTE to CANJEADO with
// the same gating as RedeemOrder; CANJEADO is terminal even for
// admins.
func (s *Service) SetOrderRedeemStatus(ctx context.Context, orderID string, to model.RedeemStatus) (*model.Order, error) {
	if to != model.RedeemRedeemed && to != model.RedeemPending {
		return nil, fmt.Errorf("%w: unknown redeem status", ErrInvalidRequest)
	}

	var order *model.Order
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		o, err := tx.Order(orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if o.RedeemStatus == model.RedeemRedeemed {
			return ErrAlreadyRedeemed
		}
		if to == model.RedeemPending {
			return &InvalidTransitionError{From: string(o.RedeemStatus), To: string(to)}
		}
		if o.PaymentStatus != model.PaymentPaid {
			return ErrNotPaid
		}
		now := s.now()
		o.RedeemStatus = model.RedeemRedeemed
		o.RedeemedAt = &now
		o.UpdatedAt = now
		tx.PutOrder(o)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", orderID).Msg("order marked redeemed by admin")
	return order, nil
}

// CancelTicketInput scopes a ticket cancellation.  RequesterID is
// checked against the ticket owner unless Admin is set.
type CancelTicketInput struct {
	RequesterID string
	Admin       bool
	Reason      string
}

// CancelTicket releases the ticket's seats back to the showtime and
// flips the ticket to cancelado, all in one transaction.  A missing
// showtime aborts the cancellation with ErrShowtimeNotFound: the
// seat release must never be silently dropped.
func (s *Service) CancelTicket(ctx context.Context, ticketID string, in CancelTicketInput) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := tx.Ticket(ticketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		if !in.Admin && in.RequesterID != "" && t.UserID != in.RequesterID {
			return ErrForbidden
		}
		if t.Status == model.TicketCancelled {
			return ErrAlreadyCancelled
		}

		st, err := tx.Showtime(t.ShowtimeID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrShowtimeNotFound
		}
		if err != nil {
			return err
		}

		released := make(map[string]bool, len(t.Seats))
		for _, label := range t.Seats {
			released[label] = true
		}
		kept := st.OccupiedSeats[:0]
		for _, label := range st.OccupiedSeats {
			if !released[label] {
				kept = append(kept, label)
			}
		}
		st.OccupiedSeats = kept
		tx.PutShowtime(st)

		now := s.now()
		t.Status = model.TicketCancelled
		t.CancelledAt = &now
		t.CancelReason = in.Reason
		tx.PutTicket(t)
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticket_id", ticketID).Strs("seats", ticket.Seats).Msg("ticket cancelled, seats released")
	return ticket, nil
}

// CancelOrderInput scopes an order cancellation.
type CancelOrderInput struct {
	RequesterID string
	Admin       bool
	Reason      string
}

// CancelOrder restores every line item's quantity onto the product's
// current stock and sets paymentStatus to CANCELADO.  Restoration
// targets live stock, not a snapshot, so sales that happened since
// the order was placed are preserved.  A redeemed order cannot be
// cancelled.
func (s *Service) CancelOrder(ctx context.Context, orderID string, in CancelOrderInput) (*model.Order, error) {
	var order *model.Order
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		o, err := tx.Order(orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if !in.Admin && in.RequesterID != "" && o.UserID != in.RequesterID {
			return ErrForbidden
		}
		if o.RedeemStatus == model.RedeemRedeemed {
			return ErrAlreadyRedeemed
		}
		if o.PaymentStatus == model.PaymentCancelled {
			return ErrAlreadyCancelled
		}

		now := s.now()
		staged := make(map[string]*model.Product)
		for _, it := range o.Items {
			p, ok := staged[it.ProductID]
			if !ok {
				p, err = tx.Product(it.ProductID)
				if errors.Is(err, store.ErrNotFound) {
					// Same stance as ticket cancellation: losing the
					// restock silently is worse than failing.
					return &ProductError{Step: "not_found", ProductID: it.ProductID}
				}
				if err != nil {
					return err
				}
				staged[it.ProductID] = p
			}
			p.Stock += it.Quantity
		}
		for _, p := range staged {
			p.UpdatedAt = now
			tx.PutProduct(p)
		}

		o.PaymentStatus = model.PaymentCancelled
		o.CancelledAt = &now
		o.CancelReason = in.Reason
		o.UpdatedAt = now
		tx.PutOrder(o)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("order_id", orderID).Msg("order cancelled, stock restored")
	return order, nil
}

// ValidateCoupon checks whether code currently applies for the given
// purchase type and premium standing, without a cart.  A nil error
// means the coupon is valid; a *coupon.Rejection carries the Spanish
// reason to surface; ErrCouponNotFound means no such code.
func (s *Service) ValidateCoupon(ctx context.Context, code string, purchase coupon.PurchaseType, premium bool) (*model.Coupon, error) {
	c, err := s.store.GetCouponByCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := coupon.Validate(c, purchase, premium, s.now()); err != nil {
		return nil, err
	}
	return c, nil
}
