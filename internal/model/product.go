package model

import "time"

// Product is a candy shop item with a finite stock and a price table
// keyed by size or variant label ("chico", "mediano", "grande", ...).
// Stock is decremented by committed orders and incremented back by
// order cancellations; it never goes negative.  Both mutations happen
// only inside a store transaction.
//
// Fields:
//  ID        – document identifier.
//  Name      – display name, also used in rejection messages.
//  Category  – bebida, comida or otros.
//  Prices    – cents per unit, keyed by size label.
//  Stock     – remaining units across all sizes.
//  Active    – inactive products cannot be ordered.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last modification timestamp.
type Product struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Prices    map[string]int64 `json:"prices"`
	Stock     int64            `json:"stock"`
	Active    bool             `json:"active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
