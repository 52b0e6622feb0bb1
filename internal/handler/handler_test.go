package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/booking"
	"github.com/butaca/booking/internal/handler"
	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/router"
	"github.com/butaca/booking/internal/store"
	"github.com/butaca/booking/internal/utils"
)

const testSecret = "test-secret"

type testServer struct {
	e  *echo.Echo
	st *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	log := zerolog.Nop()
	svc := booking.NewService(st, booking.NopPublisher{}, log)

	e := echo.New()
	router.Register(e, router.Handlers{
		Auth: &handler.AuthHandler{
			Store:      st,
			JWTSecret:  testSecret,
			AccessTTL:  15,
			BcryptCost: 4,
			Log:        log,
		},
		Showtime: &handler.ShowtimeHandler{Store: st, Log: log},
		Product:  &handler.ProductHandler{Store: st, Log: log},
		Ticket:   &handler.TicketHandler{Svc: svc, Log: log},
		Order:    &handler.OrderHandler{Svc: svc, Log: log},
		Coupon:   &handler.CouponHandler{Svc: svc, Store: st, Log: log},
		Admin:    &handler.AdminHandler{Svc: svc, Log: log},
	}, testSecret, router.Options{})

	return &testServer{e: e, st: st}
}

func (s *testServer) token(t *testing.T, userID, role string, premium bool) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, role, premium, 15)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok.Token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, payload
}

func (s *testServer) seedShowtime(t *testing.T, id string, priceCents int64) {
	t.Helper()
	err := s.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutShowtime(&model.Showtime{
			ID:             id,
			MovieID:        7,
			RoomID:         "sala-1",
			Date:           "2026-09-01",
			Time:           "21:30",
			BasePriceCents: priceCents,
			CreatedAt:      time.Now(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed showtime: %v", err)
	}
}

func (s *testServer) seedProduct(t *testing.T, id string, stock int64) {
	t.Helper()
	err := s.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutProduct(&model.Product{
			ID:     id,
			Name:   "Pochoclos",
			Prices: map[string]int64{"grande": 500},
			Stock:  stock,
			Active: true,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/v1/auth/register", "",
		`{"email":"Ana@Example.com","name":"Ana","password":"secret123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d, body %v", rec.Code, body)
	}
	user := body["user"].(map[string]any)
	if user["email"] != "ana@example.com" {
		t.Fatalf("email not normalized: %v", user["email"])
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Fatal("password hash leaked in register response")
	}

	// Duplicate email is rejected.
	rec, _ = s.do(t, http.MethodPost, "/v1/auth/register", "",
		`{"email":"ana@example.com","name":"Ana","password":"secret123"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d", rec.Code)
	}

	rec, body = s.do(t, http.MethodPost, "/v1/auth/login", "",
		`{"email":"ana@example.com","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, body %v", rec.Code, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("login returned no access token")
	}

	rec, body = s.do(t, http.MethodGet, "/v1/me", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d", rec.Code)
	}
	me := body["user"].(map[string]any)
	if me["email"] != "ana@example.com" {
		t.Fatalf("me returned wrong user: %v", me)
	}

	rec, _ = s.do(t, http.MethodPost, "/v1/auth/login", "",
		`{"email":"ana@example.com","password":"wrong-password"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password login = %d", rec.Code)
	}
}

func TestReserveTickets(t *testing.T) {
	s := newTestServer(t)
	s.seedShowtime(t, "show-1", 1000)
	tok := s.token(t, "user-1", model.RoleCustomer, false)

	rec, body := s.do(t, http.MethodPost, "/v1/tickets", tok,
		`{"showtime_id":"show-1","seats":["A1","A2"],"payment_method":"efectivo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve = %d, body %v", rec.Code, body)
	}
	ticket := body["ticket"].(map[string]any)
	if ticket["total_cents"].(float64) != 2000 {
		t.Fatalf("total = %v, want 2000", ticket["total_cents"])
	}

	// Overlapping seats conflict and name the contested labels.
	rec, body = s.do(t, http.MethodPost, "/v1/tickets", tok,
		`{"showtime_id":"show-1","seats":["A2","A3"],"payment_method":"efectivo"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("overlap reserve = %d", rec.Code)
	}
	seats := body["seats"].([]any)
	if len(seats) != 1 || seats[0] != "A2" {
		t.Fatalf("conflict seats = %v, want [A2]", seats)
	}

	// Unauthenticated checkout is rejected by the middleware.
	rec, _ = s.do(t, http.MethodPost, "/v1/tickets", "",
		`{"showtime_id":"show-1","seats":["B1"]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous reserve = %d", rec.Code)
	}
}

func TestReserveTicketsWithCoupon(t *testing.T) {
	s := newTestServer(t)
	s.seedShowtime(t, "show-1", 1000)
	err := s.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutCoupon(&model.Coupon{
			ID: "c1", Code: "CINE2X1", Scope: model.ScopeTickets,
			Mode: model.ModeTwoForOne, Active: true,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	tok := s.token(t, "user-1", model.RoleCustomer, false)

	rec, body := s.do(t, http.MethodPost, "/v1/tickets", tok,
		`{"showtime_id":"show-1","seats":["A1","A2"],"coupon_code":"cine2x1","payment_method":"efectivo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve = %d, body %v", rec.Code, body)
	}
	if body["discount_cents"].(float64) != 1000 {
		t.Fatalf("discount = %v, want 1000", body["discount_cents"])
	}
	ticket := body["ticket"].(map[string]any)
	if ticket["total_cents"].(float64) != 1000 {
		t.Fatalf("total = %v, want 1000", ticket["total_cents"])
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "prod-1", 10)
	customer := s.token(t, "user-1", model.RoleCustomer, false)
	admin := s.token(t, "admin-1", model.RoleAdmin, false)

	rec, body := s.do(t, http.MethodPost, "/v1/orders", customer,
		`{"items":[{"product_id":"prod-1","size":"grande","unit_price_cents":500,"quantity":2}],"payment_method":"efectivo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order = %d, body %v", rec.Code, body)
	}
	order := body["order"].(map[string]any)
	orderID := order["id"].(string)
	code := order["redeem_code"].(string)
	if len(code) != 8 {
		t.Fatalf("redeem code = %q", code)
	}

	// Redeeming before payment is rejected.
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/orders/redeem", admin,
		`{"code":"`+code+`"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("redeem unpaid = %d", rec.Code)
	}

	rec, _ = s.do(t, http.MethodPatch, "/v1/admin/orders/"+orderID+"/payment-status", admin,
		`{"status":"PAGADO"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark paid = %d", rec.Code)
	}

	rec, body = s.do(t, http.MethodPost, "/v1/admin/orders/redeem", admin,
		`{"code":"`+code+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem = %d, body %v", rec.Code, body)
	}
	redeemed := body["order"].(map[string]any)
	if redeemed["redeem_status"] != "CANJEADO" {
		t.Fatalf("redeem_status = %v", redeemed["redeem_status"])
	}

	// Second redemption of the same code fails.
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/orders/redeem", admin,
		`{"code":"`+code+`"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double redeem = %d", rec.Code)
	}

	// A redeemed order is frozen, cancellation included.
	rec, _ = s.do(t, http.MethodPost, "/v1/orders/"+orderID+"/cancel", customer, `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel redeemed = %d", rec.Code)
	}
}

func TestOrderInsufficientStock(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "prod-1", 3)
	customer := s.token(t, "user-1", model.RoleCustomer, false)

	rec, body := s.do(t, http.MethodPost, "/v1/orders", customer,
		`{"items":[{"product_id":"prod-1","size":"grande","unit_price_cents":500,"quantity":5}],"payment_method":"efectivo"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell = %d, body %v", rec.Code, body)
	}
	if body["available"].(float64) != 3 {
		t.Fatalf("available = %v, want 3", body["available"])
	}
}

func TestCouponValidateEndpoint(t *testing.T) {
	s := newTestServer(t)
	err := s.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		tx.PutCoupon(&model.Coupon{
			ID: "c1", Code: "PREMIUM10", Scope: model.ScopeBoth,
			Mode: model.ModePercent, Value: 10, PremiumOnly: true, Active: true,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	regular := s.token(t, "user-1", model.RoleCustomer, false)
	premium := s.token(t, "user-2", model.RoleCustomer, true)

	cases := []struct {
		name   string
		token  string
		body   string
		valid  bool
		reason string
	}{
		{"empty code", regular, `{"code":"","purchase_type":"candyshop"}`, false, "Debe ingresar un código de cupón"},
		{"unknown code", regular, `{"code":"NOPE","purchase_type":"candyshop"}`, false, "Cupón no encontrado"},
		{"premium gate", regular, `{"code":"premium10","purchase_type":"candyshop"}`, false, "Este cupón es exclusivo para usuarios premium"},
		{"premium user", premium, `{"code":"premium10","purchase_type":"candyshop"}`, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodPost, "/v1/coupons/validate", tc.token, tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %v", rec.Code, body)
			}
			if body["valid"].(bool) != tc.valid {
				t.Fatalf("valid = %v, want %v (%v)", body["valid"], tc.valid, body)
			}
			if !tc.valid && body["reason"] != tc.reason {
				t.Fatalf("reason = %q, want %q", body["reason"], tc.reason)
			}
		})
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	customer := s.token(t, "user-1", model.RoleCustomer, false)

	rec, _ := s.do(t, http.MethodGet, "/v1/admin/orders", customer, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer on admin route = %d, want 403", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/coupons", "",
		`{"code":"X","scope":"both","mode":"fixed","value":100}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous on admin route = %d, want 401", rec.Code)
	}
}

func TestAdminCouponCRUD(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "admin-1", model.RoleAdmin, false)

	rec, body := s.do(t, http.MethodPost, "/v1/admin/coupons", admin,
		`{"code":"dulce20","scope":"candyshop","mode":"percent","value":20}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create coupon = %d, body %v", rec.Code, body)
	}
	cp := body["coupon"].(map[string]any)
	if cp["code"] != "DULCE20" {
		t.Fatalf("code not upper cased: %v", cp["code"])
	}

	// Percent out of range is rejected at creation.
	rec, _ = s.do(t, http.MethodPost, "/v1/admin/coupons", admin,
		`{"code":"bad","scope":"candyshop","mode":"percent","value":150}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("percent 150 = %d, want 400", rec.Code)
	}

	rec, body = s.do(t, http.MethodGet, "/v1/admin/coupons", admin, "")
	if rec.Code != http.StatusOK || len(body["coupons"].([]any)) != 1 {
		t.Fatalf("list coupons = %d, body %v", rec.Code, body)
	}

	rec, _ = s.do(t, http.MethodDelete, "/v1/admin/coupons/DULCE20", admin, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete coupon = %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodDelete, "/v1/admin/coupons/DULCE20", admin, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing coupon = %d", rec.Code)
	}
}

func TestAdminCouponUpdateAndToggle(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "admin-1", model.RoleAdmin, false)

	rec, _ := s.do(t, http.MethodPost, "/v1/admin/coupons", admin,
		`{"code":"dulce20","scope":"candyshop","mode":"percent","value":20}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create coupon = %d", rec.Code)
	}

	// A live coupon's terms can be changed without recreating it.
	rec, body := s.do(t, http.MethodPut, "/v1/admin/coupons/dulce20", admin,
		`{"scope":"both","mode":"percent","value":30,"max_discount_cents":500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update coupon = %d, body %v", rec.Code, body)
	}
	cp := body["coupon"].(map[string]any)
	if cp["value"].(float64) != 30 || cp["scope"] != "both" {
		t.Fatalf("update not applied: %v", cp)
	}
	if cp["code"] != "DULCE20" {
		t.Fatalf("update changed the code: %v", cp["code"])
	}

	// Update validates like create: out-of-range percent is rejected.
	rec, _ = s.do(t, http.MethodPut, "/v1/admin/coupons/dulce20", admin,
		`{"scope":"both","mode":"percent","value":150}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("update percent 150 = %d, want 400", rec.Code)
	}

	// Toggle deactivates, customers get the inactive rejection, and a
	// second toggle reactivates.
	rec, body = s.do(t, http.MethodPut, "/v1/admin/coupons/dulce20/toggle", admin, "")
	if rec.Code != http.StatusOK || body["coupon"].(map[string]any)["active"].(bool) {
		t.Fatalf("toggle off = %d, body %v", rec.Code, body)
	}
	customer := s.token(t, "user-1", model.RoleCustomer, false)
	rec, body = s.do(t, http.MethodPost, "/v1/coupons/validate", customer,
		`{"code":"dulce20","purchase_type":"candyshop"}`)
	if rec.Code != http.StatusOK || body["valid"].(bool) {
		t.Fatalf("deactivated coupon validated: %v", body)
	}
	if body["reason"] != "El cupón no está activo" {
		t.Fatalf("reason = %q", body["reason"])
	}
	rec, body = s.do(t, http.MethodPut, "/v1/admin/coupons/dulce20/toggle", admin, "")
	if rec.Code != http.StatusOK || !body["coupon"].(map[string]any)["active"].(bool) {
		t.Fatalf("toggle on = %d, body %v", rec.Code, body)
	}

	rec, _ = s.do(t, http.MethodPut, "/v1/admin/coupons/missing", admin,
		`{"scope":"both","mode":"fixed","value":100}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("update missing coupon = %d, want 404", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPut, "/v1/admin/coupons/missing/toggle", admin, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("toggle missing coupon = %d, want 404", rec.Code)
	}
}

func TestCancelTicketReleasesSeatsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.seedShowtime(t, "show-1", 1000)
	tok := s.token(t, "user-1", model.RoleCustomer, false)

	_, body := s.do(t, http.MethodPost, "/v1/tickets", tok,
		`{"showtime_id":"show-1","seats":["A1"],"payment_method":"efectivo"}`)
	ticketID := body["ticket"].(map[string]any)["id"].(string)

	rec, _ := s.do(t, http.MethodPost, "/v1/tickets/"+ticketID+"/cancel", tok,
		`{"reason":"cambio de plan"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d", rec.Code)
	}

	// The seat is free again.
	rec, _ = s.do(t, http.MethodPost, "/v1/tickets", tok,
		`{"showtime_id":"show-1","seats":["A1"],"payment_method":"efectivo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("re-reserve after cancel = %d", rec.Code)
	}

	// Another customer cannot cancel someone else's ticket.
	_, body = s.do(t, http.MethodPost, "/v1/tickets", tok,
		`{"showtime_id":"show-1","seats":["B1"],"payment_method":"efectivo"}`)
	otherTicket := body["ticket"].(map[string]any)["id"].(string)
	stranger := s.token(t, "user-2", model.RoleCustomer, false)
	rec, _ = s.do(t, http.MethodPost, "/v1/tickets/"+otherTicket+"/cancel", stranger, `{}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger cancel = %d, want 403", rec.Code)
	}
}
