package models

import "time"

// Component is a part produced by a machine. Immutable once created.
type Component struct {
	ID         string    `json:"id" cbor:"id"`
	Type       string    `json:"type" cbor:"type"`
	ProducedBy string    `json:"produced_by" cbor:"produced_by"`
	Defective  bool      `json:"defective" cbor:"defective"`
	ProducedAt time.Time `json:"produced_at" cbor:"produced_at"`
}

// Product is a finished item assembled by a station from a recipe.
type Product struct {
	ID            string      `json:"id"`
	StationID     string      `json:"station_id"`
	Components    []Component `json:"components"`
	RequiredCount int         `json:"required_count"`
	AssembledAt   time.Time   `json:"assembled_at"`
}

// Complete reports whether the product holds exactly the required number of
// components.
func (p Product) Complete() bool {
	return len(p.Components) == p.RequiredCount
}

// CountByType returns how many components of each type the product holds.
func (p Product) CountByType() map[string]int {
	out := make(map[string]int)
	for _, c := range p.Components {
		out[c.Type]++
	}
	return out
}
