// Package store is the persistence boundary of the booking engine.
//
// Every contested resource (the occupied seat set of a showtime, the
// stock counter of a product) and every record derived from it lives
// behind the Store interface.  Mutations happen exclusively inside
// RunTransaction: the transaction body reads current state, stages
// writes, and the commit applies all staged writes only if none of the
// documents read meanwhile changed.  On a version conflict the whole
// body is re-executed from scratch against fresh state, up to
// MaxAttempts times, after which ErrContention is returned.
//
// The contract this gives callers: no two concurrently committing
// transactions may both believe they claimed the same unit.  Business
// decisions (seat conflicts, stock checks) are therefore always made
// against state that is genuinely current at commit time.
package store

import (
	"context"
	"errors"

	"github.com/butaca/booking/internal/model"
)

// MaxAttempts bounds the automatic retry loop of RunTransaction.
const MaxAttempts = 5

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict signals that a transaction read state that was
	// modified by a concurrent commit.  Backends return it from their
	// commit step; RunTransaction handles it by retrying and callers
	// of RunTransaction never observe it.
	ErrConflict = errors.New("store: version conflict")

	// ErrContention is returned by RunTransaction after MaxAttempts
	// consecutive conflicts.  It is transient: the caller may safely
	// retry the whole operation.
	ErrContention = errors.New("store: too much contention, giving up")
)

// Store combines transactional access with plain reads.
type Store interface {
	// RunTransaction executes fn against a transactional view of the
	// store.  Writes staged through the Tx become visible atomically
	// when fn returns nil and the commit succeeds.  fn must be safe to
	// re-execute: it runs again from the top whenever the commit
	// detects a conflict.  Any non-conflict error returned by fn
	// aborts the transaction and is returned verbatim.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	Reader
}

// Tx is the view passed to a transaction body.  Reads observe
// committed state plus the transaction's own staged writes.  Staged
// writes are not visible to anyone else until commit.
type Tx interface {
	Showtime(id string) (*model.Showtime, error)
	PutShowtime(s *model.Showtime)

	Product(id string) (*model.Product, error)
	PutProduct(p *model.Product)

	Ticket(id string) (*model.Ticket, error)
	PutTicket(t *model.Ticket)

	Order(id string) (*model.Order, error)
	OrderByRedeemCode(code string) (*model.Order, error)
	OrderByPaymentID(paymentID string) (*model.Order, error)
	PutOrder(o *model.Order)

	// RedeemCodeTaken reports whether any order already carries the
	// given redemption code.  The check is conflict-protected: if a
	// concurrent transaction claims the same code first, this
	// transaction's commit fails and the body runs again.
	RedeemCodeTaken(code string) (bool, error)

	CouponByCode(code string) (*model.Coupon, error)
	PutCoupon(c *model.Coupon)
	DeleteCoupon(code string) error

	User(id string) (*model.User, error)
	UserByEmail(email string) (*model.User, error)
	PutUser(u *model.User)
}

// Reader provides read-only access outside of a transaction.  Listing
// methods return newest-first where an order is meaningful.
type Reader interface {
	GetShowtime(ctx context.Context, id string) (*model.Showtime, error)
	// ListShowtimes filters by movie when movieID is non-zero and by
	// date (YYYY-MM-DD) when date is non-empty.
	ListShowtimes(ctx context.Context, movieID int64, date string) ([]model.Showtime, error)

	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error)

	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	ListTicketsByUser(ctx context.Context, userID string) ([]model.Ticket, error)
	ListTicketsByShowtime(ctx context.Context, showtimeID string) ([]model.Ticket, error)
	ListTickets(ctx context.Context) ([]model.Ticket, error)

	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error)
	GetOrderByRedeemCode(ctx context.Context, code string) (*model.Order, error)

	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	ListCoupons(ctx context.Context) ([]model.Coupon, error)

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// runWithRetry drives a backend's attempt function through the shared
// bounded retry loop.  attempt must perform one full read-stage-commit
// cycle and return ErrConflict when the commit lost a race.
func runWithRetry(ctx context.Context, attempt func() error) error {
	for i := 0; i < MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return ErrContention
}
