package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/coupon"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	return NewService(m, NopPublisher{}, zerolog.Nop()), m
}

func seedShowtime(t *testing.T, m *store.Memory, id string, occupied ...string) {
	t.Helper()
	err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutShowtime(&model.Showtime{
			ID:             id,
			MovieID:        7,
			Date:           "2025-07-01",
			Time:           "21:30",
			BasePriceCents: 900,
			OccupiedSeats:  occupied,
			CreatedAt:      time.Now(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed showtime: %v", err)
	}
}

func seedCandy(t *testing.T, m *store.Memory, id, name string, stock int64, prices map[string]int64) {
	t.Helper()
	err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutProduct(&model.Product{
			ID:     id,
			Name:   name,
			Prices: prices,
			Stock:  stock,
			Active: true,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func orderOf(items ...OrderItemInput) CreateOrderInput {
	return CreateOrderInput{
		UserID:        "u1",
		Items:         items,
		PaymentMethod: "efectivo",
		PaymentStatus: model.PaymentPaid,
	}
}

// --- seat reservation ---

func TestReserveSeats_HappyPath(t *testing.T) {
	svc, m := newTestService(t)
	seedShowtime(t, m, "s1")

	tk, err := svc.ReserveSeats(context.Background(), ReserveSeatsInput{
		ShowtimeID:    "s1",
		UserID:        "u1",
		Seats:         []string{"A1", "A2"},
		TotalCents:    1800,
		PaymentMethod: "mercadopago",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tk.Status != model.TicketConfirmed {
		t.Fatalf("status = %s, want confirmado", tk.Status)
	}
	st, _ := m.GetShowtime(context.Background(), "s1")
	if !st.Occupied("A1") || !st.Occupied("A2") {
		t.Fatalf("seats not claimed: %v", st.OccupiedSeats)
	}
}

func TestReserveSeats_ConflictReportsExactLabels(t *testing.T) {
	svc, m := newTestService(t)
	seedShowtime(t, m, "s1", "A1", "B5")

	_, err := svc.ReserveSeats(context.Background(), ReserveSeatsInput{
		ShowtimeID: "s1", UserID: "u1",
		Seats: []string{"A1", "A2", "B5"}, TotalCents: 2700,
	})
	var sc *SeatConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("want SeatConflictError, got %v", err)
	}
	if len(sc.Labels) != 2 || sc.Labels[0] != "A1" || sc.Labels[1] != "B5" {
		t.Fatalf("conflict labels = %v, want [A1 B5]", sc.Labels)
	}
	// Nothing was claimed.
	st, _ := m.GetShowtime(context.Background(), "s1")
	if st.Occupied("A2") {
		t.Fatal("partial claim leaked on conflict")
	}
}

func TestReserveSeats_InputValidation(t *testing.T) {
	svc, m := newTestService(t)
	seedShowtime(t, m, "s1")

	cases := []ReserveSeatsInput{
		{ShowtimeID: "s1", UserID: "u1", Seats: nil, TotalCents: 900},
		{ShowtimeID: "s1", UserID: "u1", Seats: []string{"A1", "A1"}, TotalCents: 900},
		{ShowtimeID: "s1", UserID: "u1", Seats: []string{"A1"}, TotalCents: 0},
		{ShowtimeID: "s1", UserID: "u1", Seats: []string{"A1"}, TotalCents: 900, Status: "weird"},
	}
	for i, in := range cases {
		if _, err := svc.ReserveSeats(context.Background(), in); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: want ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestReserveSeats_MissingShowtime(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ReserveSeats(context.Background(), ReserveSeatsInput{
		ShowtimeID: "nope", UserID: "u1", Seats: []string{"A1"}, TotalCents: 900,
	})
	if !errors.Is(err, ErrShowtimeNotFound) {
		t.Fatalf("want ErrShowtimeNotFound, got %v", err)
	}
}

// No double booking: many goroutines race for the same seat, exactly
// one wins and the union of committed seat sets has no duplicates.
func TestReserveSeats_NoDoubleBooking(t *testing.T) {
	const workers = 40
	svc, m := newTestService(t)
	seedShowtime(t, m, "s1")

	var won, conflicted, contended int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.ReserveSeats(context.Background(), ReserveSeatsInput{
				ShowtimeID: "s1",
				UserID:     fmt.Sprintf("u%d", n),
				Seats:      []string{"C7"},
				TotalCents: 900,
			})
			var sc *SeatConflictError
			switch {
			case err == nil:
				atomic.AddInt64(&won, 1)
			case errors.As(err, &sc):
				atomic.AddInt64(&conflicted, 1)
			case errors.Is(err, store.ErrContention):
				atomic.AddInt64(&contended, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("%d reservations won seat C7, want exactly 1", won)
	}
	st, _ := m.GetShowtime(context.Background(), "s1")
	count := 0
	for _, l := range st.OccupiedSeats {
		if l == "C7" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("seat C7 appears %d times in occupied set", count)
	}
	t.Logf("won=%d conflicted=%d contended=%d", won, conflicted, contended)
}

// --- candy orders ---

func TestCreateOrder_HappyPath(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Popcorn", 10, map[string]int64{"grande": 500, "chico": 300})

	o, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 500, Quantity: 2},
		OrderItemInput{ProductID: "p1", Size: "chico", UnitPriceCents: 300, Quantity: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	if o.SubtotalCents != 1300 || o.TotalCents != 1300 {
		t.Fatalf("subtotal=%d total=%d, want 1300/1300", o.SubtotalCents, o.TotalCents)
	}
	if o.RedeemStatus != model.RedeemPending {
		t.Fatalf("redeem status = %s, want PENDIENTE", o.RedeemStatus)
	}
	if len(o.RedeemCode) != 8 {
		t.Fatalf("redeem code %q, want length 8", o.RedeemCode)
	}
	for _, r := range o.RedeemCode {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Fatalf("redeem code %q contains %q outside the alphabet", o.RedeemCode, r)
		}
	}
	p, _ := m.GetProduct(context.Background(), "p1")
	if p.Stock != 7 {
		t.Fatalf("stock = %d, want 7", p.Stock)
	}
}

// Validation failures are checked in a fixed order per line item.
func TestCreateOrder_ValidationOrder(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "ok", "Soda", 10, map[string]int64{"mediano": 200})
	seedCandy(t, m, "off", "Old Candy", 10, map[string]int64{"mediano": 200})
	if err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		p, err := tx.Product("off")
		if err != nil {
			return err
		}
		p.Active = false
		tx.PutProduct(p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		item OrderItemInput
		step string
	}{
		{"missing product", OrderItemInput{ProductID: "ghost", Size: "mediano", UnitPriceCents: 200, Quantity: 1}, "not_found"},
		{"inactive product", OrderItemInput{ProductID: "off", Size: "mediano", UnitPriceCents: 200, Quantity: 1}, "inactive"},
		{"unknown size", OrderItemInput{ProductID: "ok", Size: "gigante", UnitPriceCents: 200, Quantity: 1}, "invalid_variant"},
		{"price mismatch", OrderItemInput{ProductID: "ok", Size: "mediano", UnitPriceCents: 150, Quantity: 1}, "price_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), orderOf(tt.item))
			var pe *ProductError
			if !errors.As(err, &pe) || pe.Step != tt.step {
				t.Fatalf("want ProductError step %s, got %v", tt.step, err)
			}
		})
	}
}

// Stock 5: ordering 6 is rejected carrying available=5, then
// order 5 succeeds leaving zero.
func TestCreateOrder_InsufficientStockThenExact(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Gummies", 5, map[string]int64{"mediano": 100})

	_, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "mediano", UnitPriceCents: 100, Quantity: 6},
	))
	var ise *InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}
	if ise.Available != 5 || ise.Requested != 6 {
		t.Fatalf("available=%d requested=%d, want 5/6", ise.Available, ise.Requested)
	}
	p, _ := m.GetProduct(context.Background(), "p1")
	if p.Stock != 5 {
		t.Fatalf("stock moved on rejection: %d", p.Stock)
	}

	o, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "mediano", UnitPriceCents: 100, Quantity: 5},
	))
	if err != nil {
		t.Fatal(err)
	}
	if o.RedeemStatus != model.RedeemPending || len(o.RedeemCode) != 8 {
		t.Fatalf("order not in expected state: %+v", o)
	}
	p, _ = m.GetProduct(context.Background(), "p1")
	if p.Stock != 0 {
		t.Fatalf("stock = %d, want 0", p.Stock)
	}
}

// Atomic multi-item orders: [A: ok, B: insufficient] leaves A's stock
// untouched.
func TestCreateOrder_AllOrNothing(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "a", "Chips", 10, map[string]int64{"mediano": 100})
	seedCandy(t, m, "b", "Chocolate", 1, map[string]int64{"mediano": 100})

	_, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "a", Size: "mediano", UnitPriceCents: 100, Quantity: 3},
		OrderItemInput{ProductID: "b", Size: "mediano", UnitPriceCents: 100, Quantity: 2},
	))
	var ise *InsufficientStockError
	if !errors.As(err, &ise) || ise.ProductID != "b" {
		t.Fatalf("want InsufficientStockError on b, got %v", err)
	}
	a, _ := m.GetProduct(context.Background(), "a")
	if a.Stock != 10 {
		t.Fatalf("product a stock = %d after failed order, want 10", a.Stock)
	}
}

// A product duplicated across line items must be checked against the
// cumulative decrement, not each line against the original stock.
func TestCreateOrder_DuplicateProductLines(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Soda", 3, map[string]int64{"chico": 100, "grande": 150})

	_, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "chico", UnitPriceCents: 100, Quantity: 2},
		OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 150, Quantity: 2},
	))
	var ise *InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("cumulative decrement not enforced: %v", err)
	}
	if ise.Available != 1 {
		t.Fatalf("available = %d, want 1 (after first line staged)", ise.Available)
	}

	o, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "chico", UnitPriceCents: 100, Quantity: 2},
		OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 150, Quantity: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	if o.SubtotalCents != 350 {
		t.Fatalf("subtotal = %d, want 350", o.SubtotalCents)
	}
	p, _ := m.GetProduct(context.Background(), "p1")
	if p.Stock != 0 {
		t.Fatalf("stock = %d, want 0", p.Stock)
	}
}

// No oversell: stock 5, 30 goroutines buying one unit each.
func TestCreateOrder_ConcurrentNoOversell(t *testing.T) {
	const (
		stock   = 5
		workers = 30
	)
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Popcorn", stock, map[string]int64{"grande": 500})

	var ok, sold, contended int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			in := orderOf(OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 500, Quantity: 1})
			in.UserID = fmt.Sprintf("u%d", n)
			_, err := svc.CreateOrder(context.Background(), in)
			var ise *InsufficientStockError
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.As(err, &ise):
				atomic.AddInt64(&sold, 1)
			case errors.Is(err, store.ErrContention):
				atomic.AddInt64(&contended, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok > stock {
		t.Fatalf("oversold: %d orders committed for stock %d", ok, stock)
	}
	p, _ := m.GetProduct(context.Background(), "p1")
	if want := int64(stock) - ok; p.Stock != want {
		t.Fatalf("stock = %d, want %d after %d orders", p.Stock, want, ok)
	}
	orders, _ := m.ListOrders(context.Background())
	if int64(len(orders)) != ok {
		t.Fatalf("%d orders persisted, %d reported committed", len(orders), ok)
	}
	t.Logf("ok=%d soldout=%d contended=%d", ok, sold, contended)
}

func TestCreateOrder_PaymentIDIdempotent(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Popcorn", 10, map[string]int64{"grande": 500})

	in := orderOf(OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 500, Quantity: 2})
	in.PaymentID = "mp-123"
	first, err := svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	again, err := svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Fatalf("second submit created new order %s, want %s", again.ID, first.ID)
	}
	p, _ := m.GetProduct(context.Background(), "p1")
	if p.Stock != 8 {
		t.Fatalf("stock = %d, want 8 (decremented once)", p.Stock)
	}
}

func TestCreateOrder_CouponApplied(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Popcorn", 10, map[string]int64{"grande": 100})
	if err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutCoupon(&model.Coupon{
			ID: "c1", Code: "DULCE2X1", Scope: model.ScopeCandyShop,
			Mode: model.ModeTwoForOne, Active: true,
		})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	in := orderOf(OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 100, Quantity: 3})
	in.CouponCode = "dulce2x1"
	in.ServiceFeeCents = 50
	o, err := svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if o.DiscountCents != 100 {
		t.Fatalf("discount = %d, want 100", o.DiscountCents)
	}
	if o.TotalCents != 250 {
		t.Fatalf("total = %d, want 300-100+50=250", o.TotalCents)
	}
}

func TestCreateOrder_CouponRejectionAborts(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Popcorn", 10, map[string]int64{"grande": 100})
	if err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutCoupon(&model.Coupon{
			ID: "c1", Code: "VIP", Scope: model.ScopeBoth,
			Mode: model.ModeFixed, Value: 50, PremiumOnly: true, Active: true,
		})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	in := orderOf(OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 100, Quantity: 1})
	in.CouponCode = "VIP"
	_, err := svc.CreateOrder(context.Background(), in)
	if !errors.Is(err, coupon.ErrPremiumRequired) {
		t.Fatalf("want ErrPremiumRequired, got %v", err)
	}
	p, _ := m.GetProduct(context.Background(), "p1")
	if p.Stock != 10 {
		t.Fatalf("stock moved on rejected coupon: %d", p.Stock)
	}
}

// --- redemption state machine ---

func paidOrder(t *testing.T, svc *Service, m *store.Memory) *model.Order {
	t.Helper()
	seedCandy(t, m, "pr", "Nachos", 100, map[string]int64{"mediano": 400})
	o, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "pr", Size: "mediano", UnitPriceCents: 400, Quantity: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRedeemOrder_Lifecycle(t *testing.T) {
	svc, m := newTestService(t)
	o := paidOrder(t, svc, m)

	got, err := svc.RedeemOrder(context.Background(), o.RedeemCode)
	if err != nil {
		t.Fatal(err)
	}
	if got.RedeemStatus != model.RedeemRedeemed || got.RedeemedAt == nil {
		t.Fatalf("order not marked redeemed: %+v", got)
	}

	if _, err := svc.RedeemOrder(context.Background(), o.RedeemCode); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("second redeem: want ErrAlreadyRedeemed, got %v", err)
	}
	if _, err := svc.RedeemOrder(context.Background(), "ZZZZ9999"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown code: want ErrOrderNotFound, got %v", err)
	}
}

func TestRedeemOrder_RequiresPaid(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "pr", "Nachos", 10, map[string]int64{"mediano": 400})
	in := orderOf(OrderItemInput{ProductID: "pr", Size: "mediano", UnitPriceCents: 400, Quantity: 1})
	in.PaymentStatus = model.PaymentPending
	o, err := svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RedeemOrder(context.Background(), o.RedeemCode); !errors.Is(err, ErrNotPaid) {
		t.Fatalf("want ErrNotPaid, got %v", err)
	}
}

// Idempotent redemption under concurrency: one success, the rest
// ErrAlreadyRedeemed, never two successes.
func TestRedeemOrder_ConcurrentSingleWinner(t *testing.T) {
	const workers = 20
	svc, m := newTestService(t)
	o := paidOrder(t, svc, m)

	var ok, already int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RedeemOrder(context.Background(), o.RedeemCode)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, ErrAlreadyRedeemed):
				atomic.AddInt64(&already, 1)
			case errors.Is(err, store.ErrContention):
				// transient, acceptable
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("%d redeems succeeded, want exactly 1", ok)
	}
}

func TestSetOrderPaymentStatus_Transitions(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "pr", "Nachos", 10, map[string]int64{"mediano": 400})
	in := orderOf(OrderItemInput{ProductID: "pr", Size: "mediano", UnitPriceCents: 400, Quantity: 1})
	in.PaymentStatus = model.PaymentPending
	o, err := svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	// PENDIENTE -> PAGADO -> PENDIENTE both legal.
	if _, err := svc.SetOrderPaymentStatus(context.Background(), o.ID, model.PaymentPaid); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetOrderPaymentStatus(context.Background(), o.ID, model.PaymentPending); err != nil {
		t.Fatal(err)
	}

	// Same-state change is rejected.
	_, err = svc.SetOrderPaymentStatus(context.Background(), o.ID, model.PaymentPending)
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}

	// CANCELADO goes through the compensator and is terminal.
	if _, err := svc.SetOrderPaymentStatus(context.Background(), o.ID, model.PaymentCancelled); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetOrderPaymentStatus(context.Background(), o.ID, model.PaymentPaid); err == nil {
		t.Fatal("revived a cancelled order")
	}
}

func TestSetOrderRedeemStatus_AdminPath(t *testing.T) {
	svc, m := newTestService(t)
	o := paidOrder(t, svc, m)

	got, err := svc.SetOrderRedeemStatus(context.Background(), o.ID, model.RedeemRedeemed)
	if err != nil {
		t.Fatal(err)
	}
	if got.RedeemStatus != model.RedeemRedeemed {
		t.Fatalf("status = %s", got.RedeemStatus)
	}
	// CANJEADO is terminal even for admins.
	if _, err := svc.SetOrderRedeemStatus(context.Background(), o.ID, model.RedeemPending); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("want ErrAlreadyRedeemed, got %v", err)
	}
}

// --- cancellation compensator ---

func TestCancelTicket_RestoresSeats(t *testing.T) {
	svc, m := newTestService(t)
	seedShowtime(t, m, "s1", "D1")

	tk, err := svc.ReserveSeats(context.Background(), ReserveSeatsInput{
		ShowtimeID: "s1", UserID: "u1",
		Seats: []string{"A1", "A2", "A3"}, TotalCents: 2700,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.CancelTicket(context.Background(), tk.ID, CancelTicketInput{RequesterID: "u1", Reason: "cambio de plan"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TicketCancelled || got.CancelledAt == nil {
		t.Fatalf("ticket not cancelled: %+v", got)
	}

	st, _ := m.GetShowtime(context.Background(), "s1")
	if len(st.OccupiedSeats) != 1 || st.OccupiedSeats[0] != "D1" {
		t.Fatalf("occupied set = %v, want pre-reservation [D1]", st.OccupiedSeats)
	}

	if _, err := svc.CancelTicket(context.Background(), tk.ID, CancelTicketInput{RequesterID: "u1"}); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("double cancel: want ErrAlreadyCancelled, got %v", err)
	}
}

func TestCancelTicket_OwnershipEnforced(t *testing.T) {
	svc, m := newTestService(t)
	seedShowtime(t, m, "s1")
	tk, err := svc.ReserveSeats(context.Background(), ReserveSeatsInput{
		ShowtimeID: "s1", UserID: "u1", Seats: []string{"A1"}, TotalCents: 900,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CancelTicket(context.Background(), tk.ID, CancelTicketInput{RequesterID: "intruder"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if _, err := svc.CancelTicket(context.Background(), tk.ID, CancelTicketInput{RequesterID: "staff", Admin: true}); err != nil {
		t.Fatalf("admin cancel failed: %v", err)
	}
}

// A missing showtime aborts the cancellation loudly instead of
// silently releasing nothing.
func TestCancelTicket_MissingShowtimeFailsLoudly(t *testing.T) {
	svc, m := newTestService(t)
	if err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutTicket(&model.Ticket{
			ID: "t1", UserID: "u1", ShowtimeID: "ghost",
			Seats: []string{"A1"}, Status: model.TicketConfirmed,
		})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.CancelTicket(context.Background(), "t1", CancelTicketInput{RequesterID: "u1"})
	if !errors.Is(err, ErrShowtimeNotFound) {
		t.Fatalf("want ErrShowtimeNotFound, got %v", err)
	}
	tk, _ := m.GetTicket(context.Background(), "t1")
	if tk.Status != model.TicketConfirmed {
		t.Fatalf("ticket flipped despite failed release: %s", tk.Status)
	}
}

func TestCancelOrder_RestoresCurrentStock(t *testing.T) {
	svc, m := newTestService(t)
	seedCandy(t, m, "p1", "Popcorn", 10, map[string]int64{"grande": 500})

	o, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 500, Quantity: 2},
	))
	if err != nil {
		t.Fatal(err)
	}

	// Another sale moves stock before the cancellation lands.
	if _, err := svc.CreateOrder(context.Background(), orderOf(
		OrderItemInput{ProductID: "p1", Size: "grande", UnitPriceCents: 500, Quantity: 3},
	)); err != nil {
		t.Fatal(err)
	}

	got, err := svc.CancelOrder(context.Background(), o.ID, CancelOrderInput{RequesterID: "u1", Reason: "me arrepentí"})
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentStatus != model.PaymentCancelled {
		t.Fatalf("payment status = %s, want CANCELADO", got.PaymentStatus)
	}

	// 10 - 2 - 3 + 2 = 7: restoration absorbs the interleaved sale.
	p, _ := m.GetProduct(context.Background(), "p1")
	if p.Stock != 7 {
		t.Fatalf("stock = %d, want 7", p.Stock)
	}

	if _, err := svc.CancelOrder(context.Background(), o.ID, CancelOrderInput{RequesterID: "u1"}); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("double cancel: want ErrAlreadyCancelled, got %v", err)
	}
}

func TestCancelOrder_RedeemedIsFrozen(t *testing.T) {
	svc, m := newTestService(t)
	o := paidOrder(t, svc, m)
	if _, err := svc.RedeemOrder(context.Background(), o.RedeemCode); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CancelOrder(context.Background(), o.ID, CancelOrderInput{Admin: true}); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("cancelled a redeemed order: %v", err)
	}
	p, _ := m.GetProduct(context.Background(), "pr")
	if p.Stock != 99 {
		t.Fatalf("stock = %d, want 99 (no restock)", p.Stock)
	}
}

// --- coupon validation surface ---

func TestValidateCoupon(t *testing.T) {
	svc, m := newTestService(t)
	past := time.Now().Add(-time.Hour)
	if err := m.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutCoupon(&model.Coupon{ID: "c1", Code: "CINE20", Scope: model.ScopeTickets, Mode: model.ModePercent, Value: 20, Active: true})
		tx.PutCoupon(&model.Coupon{ID: "c2", Code: "VIEJO", Scope: model.ScopeBoth, Mode: model.ModeFixed, Value: 100, Active: true, ValidTo: &past})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ValidateCoupon(context.Background(), "cine20", coupon.PurchaseTickets, false); err != nil {
		t.Fatalf("valid coupon rejected: %v", err)
	}
	if _, err := svc.ValidateCoupon(context.Background(), "CINE20", coupon.PurchaseCandyShop, false); !errors.Is(err, coupon.ErrScopeMismatch) {
		t.Fatalf("want ErrScopeMismatch, got %v", err)
	}
	if _, err := svc.ValidateCoupon(context.Background(), "VIEJO", coupon.PurchaseTickets, false); !errors.Is(err, coupon.ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
	if _, err := svc.ValidateCoupon(context.Background(), "NADA", coupon.PurchaseTickets, false); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("want ErrCouponNotFound, got %v", err)
	}
}
