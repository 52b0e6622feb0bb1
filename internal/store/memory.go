package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/butaca/booking/internal/model"
)

// Memory is an in-process Store backed by maps with per-document
// version counters.  It implements the same optimistic concurrency
// contract as the MySQL backend and is the backend used by the test
// suite; it is also usable as a standalone mode for local development.
//
// Every document and every secondary index entry (redeem code,
// payment id, coupon code, user email) carries a version.  A
// transaction records the version of everything it read; commit takes
// the store lock, verifies all recorded versions are unchanged, and
// only then applies the staged writes.
type Memory struct {
	mu sync.Mutex

	versions map[string]uint64

	showtimes map[string]model.Showtime
	products  map[string]model.Product
	tickets   map[string]model.Ticket
	orders    map[string]model.Order
	coupons   map[string]model.Coupon // keyed by upper case code
	users     map[string]model.User

	codes    map[string]string // redeem code -> order id
	payments map[string]string // payment id -> order id
	emails   map[string]string // email -> user id
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		versions:  make(map[string]uint64),
		showtimes: make(map[string]model.Showtime),
		products:  make(map[string]model.Product),
		tickets:   make(map[string]model.Ticket),
		orders:    make(map[string]model.Order),
		coupons:   make(map[string]model.Coupon),
		users:     make(map[string]model.User),
		codes:     make(map[string]string),
		payments:  make(map[string]string),
		emails:    make(map[string]string),
	}
}

// RunTransaction implements Store.
func (m *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return runWithRetry(ctx, func() error {
		tx := &memTx{
			m:       m,
			reads:   make(map[string]uint64),
			writes:  make(map[string]any),
			deletes: make(map[string]bool),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.commit()
	})
}

// memTx implements Tx over a Memory store.  Reads copy values out
// under the store lock and record the observed version (version 0
// means "absent", so reading a missing document still conflicts with
// a concurrent creation of it).
type memTx struct {
	m       *Memory
	reads   map[string]uint64
	writes  map[string]any // doc key -> staged value
	deletes map[string]bool
}

func (t *memTx) observe(key string) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.m.versions[key]
	}
}

// --- showtimes ---

func (t *memTx) Showtime(id string) (*model.Showtime, error) {
	key := "showtimes/" + id
	if v, ok := t.writes[key]; ok {
		s := v.(model.Showtime)
		return cloneShowtime(&s), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	s, ok := t.m.showtimes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneShowtime(&s), nil
}

func (t *memTx) PutShowtime(s *model.Showtime) {
	t.writes["showtimes/"+s.ID] = *cloneShowtime(s)
}

// --- products ---

func (t *memTx) Product(id string) (*model.Product, error) {
	key := "products/" + id
	if v, ok := t.writes[key]; ok {
		p := v.(model.Product)
		return cloneProduct(&p), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	p, ok := t.m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProduct(&p), nil
}

func (t *memTx) PutProduct(p *model.Product) {
	t.writes["products/"+p.ID] = *cloneProduct(p)
}

// --- tickets ---

func (t *memTx) Ticket(id string) (*model.Ticket, error) {
	key := "tickets/" + id
	if v, ok := t.writes[key]; ok {
		tk := v.(model.Ticket)
		return cloneTicket(&tk), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	tk, ok := t.m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(&tk), nil
}

func (t *memTx) PutTicket(tk *model.Ticket) {
	t.writes["tickets/"+tk.ID] = *cloneTicket(tk)
}

// --- orders ---

func (t *memTx) Order(id string) (*model.Order, error) {
	key := "orders/" + id
	if v, ok := t.writes[key]; ok {
		o := v.(model.Order)
		return cloneOrder(&o), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	o, ok := t.m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(&o), nil
}

func (t *memTx) OrderByRedeemCode(code string) (*model.Order, error) {
	t.m.mu.Lock()
	t.observe("codes/" + code)
	id, ok := t.m.codes[code]
	t.m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return t.Order(id)
}

func (t *memTx) OrderByPaymentID(paymentID string) (*model.Order, error) {
	t.m.mu.Lock()
	t.observe("payments/" + paymentID)
	id, ok := t.m.payments[paymentID]
	t.m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return t.Order(id)
}

func (t *memTx) PutOrder(o *model.Order) {
	t.writes["orders/"+o.ID] = *cloneOrder(o)
}

func (t *memTx) RedeemCodeTaken(code string) (bool, error) {
	for _, v := range t.writes {
		if o, ok := v.(model.Order); ok && o.RedeemCode == code {
			return true, nil
		}
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe("codes/" + code)
	_, taken := t.m.codes[code]
	return taken, nil
}

// --- coupons ---

func (t *memTx) CouponByCode(code string) (*model.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	key := "coupons/" + code
	if t.deletes[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.writes[key]; ok {
		c := v.(model.Coupon)
		return cloneCoupon(&c), nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	c, ok := t.m.coupons[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCoupon(&c), nil
}

func (t *memTx) PutCoupon(c *model.Coupon) {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	key := "coupons/" + code
	delete(t.deletes, key)
	cc := *cloneCoupon(c)
	cc.Code = code
	t.writes[key] = cc
}

func (t *memTx) DeleteCoupon(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	key := "coupons/" + code
	delete(t.writes, key)
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	if _, ok := t.m.coupons[code]; !ok {
		return ErrNotFound
	}
	t.deletes[key] = true
	return nil
}

// --- users ---

func (t *memTx) User(id string) (*model.User, error) {
	key := "users/" + id
	if v, ok := t.writes[key]; ok {
		u := v.(model.User)
		return &u, nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.observe(key)
	u, ok := t.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) UserByEmail(email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	t.m.mu.Lock()
	t.observe("emails/" + email)
	id, ok := t.m.emails[email]
	t.m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return t.User(id)
}

func (t *memTx) PutUser(u *model.User) {
	uu := *u
	uu.Email = strings.ToLower(strings.TrimSpace(uu.Email))
	t.writes["users/"+uu.ID] = uu
}

// commit validates every recorded read version under the store lock
// and applies the staged writes.  Index entries claimed by a staged
// write (redeem codes, payment ids, emails) are double checked even
// when the transaction never read them, so uniqueness cannot be
// broken by two blind writers.
func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	for key, ver := range t.reads {
		if t.m.versions[key] != ver {
			return ErrConflict
		}
	}

	// Uniqueness guards for staged orders and users.
	for _, v := range t.writes {
		switch doc := v.(type) {
		case model.Order:
			if doc.RedeemCode != "" {
				if owner, ok := t.m.codes[doc.RedeemCode]; ok && owner != doc.ID {
					return ErrConflict
				}
			}
			if doc.PaymentID != "" {
				if owner, ok := t.m.payments[doc.PaymentID]; ok && owner != doc.ID {
					return ErrConflict
				}
			}
		case model.User:
			if owner, ok := t.m.emails[doc.Email]; ok && owner != doc.ID {
				return ErrConflict
			}
		}
	}

	for key, v := range t.writes {
		t.m.versions[key]++
		switch doc := v.(type) {
		case model.Showtime:
			t.m.showtimes[doc.ID] = doc
		case model.Product:
			t.m.products[doc.ID] = doc
		case model.Ticket:
			t.m.tickets[doc.ID] = doc
		case model.Order:
			t.m.orders[doc.ID] = doc
			if doc.RedeemCode != "" {
				if _, ok := t.m.codes[doc.RedeemCode]; !ok {
					t.m.codes[doc.RedeemCode] = doc.ID
					t.m.versions["codes/"+doc.RedeemCode]++
				}
			}
			if doc.PaymentID != "" {
				if _, ok := t.m.payments[doc.PaymentID]; !ok {
					t.m.payments[doc.PaymentID] = doc.ID
					t.m.versions["payments/"+doc.PaymentID]++
				}
			}
		case model.Coupon:
			t.m.coupons[doc.Code] = doc
		case model.User:
			t.m.users[doc.ID] = doc
			if _, ok := t.m.emails[doc.Email]; !ok {
				t.m.emails[doc.Email] = doc.ID
				t.m.versions["emails/"+doc.Email]++
			}
		}
	}

	for key := range t.deletes {
		code := strings.TrimPrefix(key, "coupons/")
		delete(t.m.coupons, code)
		t.m.versions[key]++
	}

	return nil
}

// --- Reader ---

func (m *Memory) GetShowtime(ctx context.Context, id string) (*model.Showtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.showtimes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneShowtime(&s), nil
}

func (m *Memory) ListShowtimes(ctx context.Context, movieID int64, date string) ([]model.Showtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Showtime, 0)
	for _, s := range m.showtimes {
		if movieID != 0 && s.MovieID != movieID {
			continue
		}
		if date != "" && s.Date != date {
			continue
		}
		out = append(out, *cloneShowtime(&s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (m *Memory) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProduct(&p), nil
}

func (m *Memory) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Product, 0)
	for _, p := range m.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *cloneProduct(&p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(&t), nil
}

func (m *Memory) ListTicketsByUser(ctx context.Context, userID string) ([]model.Ticket, error) {
	return m.listTickets(func(t *model.Ticket) bool { return t.UserID == userID })
}

func (m *Memory) ListTicketsByShowtime(ctx context.Context, showtimeID string) ([]model.Ticket, error) {
	return m.listTickets(func(t *model.Ticket) bool { return t.ShowtimeID == showtimeID })
}

func (m *Memory) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	return m.listTickets(func(*model.Ticket) bool { return true })
}

func (m *Memory) listTickets(keep func(*model.Ticket) bool) ([]model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Ticket, 0)
	for _, t := range m.tickets {
		if keep(&t) {
			out = append(out, *cloneTicket(&t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(&o), nil
}

func (m *Memory) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return m.listOrders(func(o *model.Order) bool { return o.UserID == userID })
}

func (m *Memory) ListOrders(ctx context.Context) ([]model.Order, error) {
	return m.listOrders(func(*model.Order) bool { return true })
}

func (m *Memory) listOrders(keep func(*model.Order) bool) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0)
	for _, o := range m.orders {
		if keep(&o) {
			out = append(out, *cloneOrder(&o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.payments[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	o := m.orders[id]
	return cloneOrder(&o), nil
}

func (m *Memory) GetOrderByRedeemCode(ctx context.Context, code string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	o := m.orders[id]
	return cloneOrder(&o), nil
}

func (m *Memory) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCoupon(&c), nil
}

func (m *Memory) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, *cloneCoupon(&c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	u := m.users[id]
	return &u, nil
}

// --- clone helpers ---
//
// Values handed out always own their slices and maps; callers can
// mutate them freely without racing the store.

func cloneShowtime(s *model.Showtime) *model.Showtime {
	out := *s
	out.OccupiedSeats = append([]string(nil), s.OccupiedSeats...)
	return &out
}

func cloneProduct(p *model.Product) *model.Product {
	out := *p
	out.Prices = make(map[string]int64, len(p.Prices))
	for k, v := range p.Prices {
		out.Prices[k] = v
	}
	return &out
}

func cloneTicket(t *model.Ticket) *model.Ticket {
	out := *t
	out.Seats = append([]string(nil), t.Seats...)
	return &out
}

func cloneOrder(o *model.Order) *model.Order {
	out := *o
	out.Items = append([]model.OrderItem(nil), o.Items...)
	return &out
}

func cloneCoupon(c *model.Coupon) *model.Coupon {
	out := *c
	return &out
}
