package model

import "time"

// Product is the slice of catalog data the recommender cares about.
type Product struct {
	CreatedAt time.Time
	ID        string
	Name      string
	Category  string
}
