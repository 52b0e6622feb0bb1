package model

import "time"

// Showtime is a single screening of a movie in a room.  It owns the
// set of occupied seat labels for that screening.  Seat labels are
// opaque strings such as "A1" or "F12"; comparison is exact match.
//
// The occupied set is mutated only inside a store transaction: seat
// reservation adds labels, ticket cancellation removes them.  No
// partial update of the set is ever observable by a concurrent reader.
//
// Fields:
//  ID             – document identifier.
//  MovieID        – external movie catalogue identifier.
//  CinemaID       – cinema the screening belongs to.
//  RoomID         – room within the cinema.
//  Date           – screening date in YYYY-MM-DD form.
//  Time           – screening start time in HH:MM form.
//  BasePriceCents – per seat price in cents.
//  OccupiedSeats  – labels of seats already sold.
//  CreatedAt      – creation timestamp.
type Showtime struct {
	ID             string    `json:"id"`
	MovieID        int64     `json:"movie_id"`
	CinemaID       string    `json:"cinema_id"`
	RoomID         string    `json:"room_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	BasePriceCents int64     `json:"base_price_cents"`
	OccupiedSeats  []string  `json:"occupied_seats"`
	CreatedAt      time.Time `json:"created_at"`
}

// Occupied reports whether the given seat label is already taken.
func (s *Showtime) Occupied(label string) bool {
	for _, o := range s.OccupiedSeats {
		if o == label {
			return true
		}
	}
	return false
}
