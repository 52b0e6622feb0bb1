// Package router maps the HTTP surface onto handlers and decides
// which middleware guards each group.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/butaca/booking/internal/handler"
	"github.com/butaca/booking/internal/middleware"
	"github.com/butaca/booking/internal/model"
)

// Handlers bundles everything the router wires up.
type Handlers struct {
	Auth     *handler.AuthHandler
	Showtime *handler.ShowtimeHandler
	Product  *handler.ProductHandler
	Ticket   *handler.TicketHandler
	Order    *handler.OrderHandler
	Coupon   *handler.CouponHandler
	Admin    *handler.AdminHandler
}

// Options carries optional cross-cutting middleware.  Nil entries are
// skipped, so the service runs without Redis.
type Options struct {
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// Register wires every route.  Layout:
//
//	/healthz                     liveness, unauthenticated
//	/v1/auth/*                   register and login
//	/v1/showtimes, /v1/products  public catalogue (cached)
//	/v1/*                        authenticated customer surface
//	/v1/admin/*                  admin role required
func Register(e *echo.Echo, h Handlers, jwtSecret string, opts Options) {
	e.GET("/healthz", handler.Health)

	if opts.RateLimit != nil {
		e.Use(opts.RateLimit)
	}

	// Public catalogue.  Read-only, safe to cache.
	pub := e.Group("/v1")
	if opts.Cache != nil {
		pub.Use(opts.Cache)
	}
	pub.GET("/showtimes", h.Showtime.List)
	pub.GET("/showtimes/:id", h.Showtime.Get)
	pub.GET("/products", h.Product.List)
	pub.GET("/products/:id", h.Product.Get)

	auth := e.Group("/v1/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)

	// Authenticated customer surface.
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))
	v1.GET("/me", h.Auth.Me)

	v1.POST("/tickets", h.Ticket.Reserve)
	v1.GET("/tickets/mine", h.Ticket.Mine)
	v1.GET("/tickets/:id", h.Ticket.Get)
	v1.POST("/tickets/:id/cancel", h.Ticket.Cancel)

	v1.POST("/orders", h.Order.Create)
	v1.GET("/orders/mine", h.Order.Mine)
	v1.GET("/orders/:id", h.Order.Get)
	v1.POST("/orders/:id/cancel", h.Order.Cancel)

	v1.POST("/coupons/validate", h.Coupon.Validate)

	// Back office.
	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(model.RoleAdmin))

	admin.POST("/showtimes", h.Showtime.Create)
	admin.POST("/products", h.Product.Create)
	admin.PUT("/products/:id", h.Product.Update)

	admin.GET("/orders", h.Admin.ListOrders)
	admin.GET("/orders/code/:code", h.Order.ByCode)
	admin.GET("/orders/payment/:payment_id", h.Order.ByPaymentID)
	admin.POST("/orders/redeem", h.Order.Redeem)
	admin.PATCH("/orders/:id/payment-status", h.Admin.SetPaymentStatus)
	admin.PATCH("/orders/:id/redeem-status", h.Admin.SetRedeemStatus)
	admin.GET("/tickets", h.Admin.ListTickets)
	admin.GET("/summary", h.Admin.Summary)

	admin.GET("/coupons", h.Coupon.List)
	admin.POST("/coupons", h.Coupon.Create)
	admin.PUT("/coupons/:code", h.Coupon.Update)
	admin.PUT("/coupons/:code/toggle", h.Coupon.Toggle)
	admin.DELETE("/coupons/:code", h.Coupon.Delete)
}
