package model

// Interaction is the summed affinity of one user for one product.
// Score may be negative when removals outweigh positive signals.
type Interaction struct {
	UserID    string
	ProductID string
	Score     float64
}

// PopularProduct is a product ranked by its total historical weight.
type PopularProduct struct {
	ProductID   string
	TotalWeight float64
}
