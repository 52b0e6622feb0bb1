package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
	"github.com/butaca/booking/internal/utils"
)

// AuthHandler owns registration, login and the current-user endpoint.
type AuthHandler struct {
	Store      store.Store
	JWTSecret  string
	AccessTTL  int // minutes
	BcryptCost int
	Log        zerolog.Logger
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a customer account.  Email uniqueness is enforced
// transactionally: two concurrent registrations for the same address
// cannot both commit.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid email is required"})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}

	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		h.Log.Error().Err(err).Msg("hash password")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         model.RoleCustomer,
		CreatedAt:    time.Now().UTC(),
	}

	err = h.Store.RunTransaction(c.Request().Context(), func(tx store.Tx) error {
		if _, err := tx.UserByEmail(email); err == nil {
			return errEmailTaken
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		tx.PutUser(user)
		return nil
	})
	switch {
	case errors.Is(err, errEmailTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	case errors.Is(err, store.ErrContention):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	case err != nil:
		h.Log.Error().Err(err).Msg("register user")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Log.Info().Str("user_id", user.ID).Str("email", email).Msg("user registered")
	return c.JSON(http.StatusCreated, echo.Map{"user": publicUser(user)})
}

var errEmailTaken = errors.New("email taken")

// Login verifies credentials and issues an access token carrying the
// user's role and premium standing.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	u, err := h.Store.GetUserByEmail(c.Request().Context(), email)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !utils.VerifyPassword(u.PasswordHash, req.Password)) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("login lookup")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	tok, err := utils.NewAccessToken(h.JWTSecret, u.ID, u.Role, u.Premium, h.AccessTTL)
	if err != nil {
		h.Log.Error().Err(err).Msg("sign access token")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token": tok.Token,
		"expires_at":   tok.Exp,
		"user":         publicUser(u),
	})
}

// Me returns the authenticated user's own record.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := requesterID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.Store.GetUser(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("load current user")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": publicUser(u)})
}
