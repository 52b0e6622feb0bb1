package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/butaca/booking/internal/model"
	"github.com/butaca/booking/internal/store"
)

// ShowtimeHandler serves the public screening catalogue and the admin
// creation endpoint.
type ShowtimeHandler struct {
	Store store.Store
	Log   zerolog.Logger
}

// List returns screenings, optionally filtered by ?movie_id= and
// ?date=YYYY-MM-DD.
func (h *ShowtimeHandler) List(c echo.Context) error {
	var movieID int64
	if raw := c.QueryParam("movie_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "movie_id must be numeric"})
		}
		movieID = id
	}
	shows, err := h.Store.ListShowtimes(c.Request().Context(), movieID, c.QueryParam("date"))
	if err != nil {
		h.Log.Error().Err(err).Msg("list showtimes")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"showtimes": shows})
}

// Get returns one screening including its occupied seat labels, which
// is what seat pickers render against.
func (h *ShowtimeHandler) Get(c echo.Context) error {
	st, err := h.Store.GetShowtime(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("get showtime")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime": st})
}

type createShowtimeRequest struct {
	MovieID        int64  `json:"movie_id"`
	CinemaID       string `json:"cinema_id"`
	RoomID         string `json:"room_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	BasePriceCents int64  `json:"base_price_cents"`
}

// Create registers a new screening.  Admin only.
func (h *ShowtimeHandler) Create(c echo.Context) error {
	var req createShowtimeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.MovieID <= 0 || req.RoomID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "movie_id and room_id are required"})
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	}
	if _, err := time.Parse("15:04", req.Time); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "time must be HH:MM"})
	}
	if req.BasePriceCents <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "base_price_cents must be positive"})
	}

	st := &model.Showtime{
		ID:             uuid.NewString(),
		MovieID:        req.MovieID,
		CinemaID:       req.CinemaID,
		RoomID:         req.RoomID,
		Date:           req.Date,
		Time:           req.Time,
		BasePriceCents: req.BasePriceCents,
		CreatedAt:      time.Now().UTC(),
	}
	err := h.Store.RunTransaction(c.Request().Context(), func(tx store.Tx) error {
		tx.PutShowtime(st)
		return nil
	})
	if err != nil {
		h.Log.Error().Err(err).Msg("create showtime")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	h.Log.Info().Str("showtime_id", st.ID).Int64("movie_id", st.MovieID).Msg("showtime created")
	return c.JSON(http.StatusCreated, echo.Map{"showtime": st})
}
