// Package aggregate collapses the raw interaction log into one affinity score
// per user and product.
package aggregate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/model"
)

type pairKey struct {
	user    string
	product string
}

// Aggregate sums event weights per (user, product) pair, keeping only events
// whose product is in catalogIDs. The result is sorted by user then product.
//
// It fails with common.ErrDataUnavailable when the catalog is empty or when
// no event survives the catalog filter.
func Aggregate(events []model.InteractionEvent, catalogIDs []string) ([]model.Interaction, error) {
	if len(catalogIDs) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", common.ErrDataUnavailable)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no interaction events", common.ErrDataUnavailable)
	}

	catalog := make(map[string]struct{}, len(catalogIDs))
	for _, id := range catalogIDs {
		catalog[id] = struct{}{}
	}

	scores := make(map[pairKey]float64)
	for _, ev := range events {
		if _, ok := catalog[ev.ProductID]; !ok {
			continue
		}
		scores[pairKey{user: ev.UserID, product: ev.ProductID}] += ev.Weight
	}

	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: no events reference products in the catalog", common.ErrDataUnavailable)
	}

	out := make([]model.Interaction, 0, len(scores))
	for k, score := range scores {
		out = append(out, model.Interaction{UserID: k.user, ProductID: k.product, Score: score})
	}
	slices.SortFunc(out, func(a, b model.Interaction) int {
		if c := strings.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})

	return out, nil
}

// Stats summarises an aggregated batch.
type Stats struct {
	Pairs    int
	Users    int
	Products int
	MinScore float64
	MaxScore float64
}

// Summarize reports counts and score range for interactions.
func Summarize(interactions []model.Interaction) Stats {
	if len(interactions) == 0 {
		return Stats{}
	}

	users := make(map[string]struct{})
	products := make(map[string]struct{})
	stats := Stats{
		Pairs:    len(interactions),
		MinScore: interactions[0].Score,
		MaxScore: interactions[0].Score,
	}
	for _, in := range interactions {
		users[in.UserID] = struct{}{}
		products[in.ProductID] = struct{}{}
		stats.MinScore = min(stats.MinScore, in.Score)
		stats.MaxScore = max(stats.MaxScore, in.Score)
	}
	stats.Users = len(users)
	stats.Products = len(products)
	return stats
}
