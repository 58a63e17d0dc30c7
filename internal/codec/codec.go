// Package codec maps opaque user and product identifiers to the dense indices
// used by the embedding model.
package codec

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Veraticus/affinity/internal/model"
)

// ErrUnknownIdentifier is returned when an identifier or index was not part of
// the fitted vocabulary. For users this is the cold-start signal.
var ErrUnknownIdentifier = errors.New("unknown identifier")

// ErrInvalidVocabulary is returned when a persisted vocabulary is not in
// strictly ascending order.
var ErrInvalidVocabulary = errors.New("invalid vocabulary")

// Encoder is a one-to-one mapping between identifiers and [0, Len()).
// Indices follow ascending identifier order.
type Encoder struct {
	index   map[string]int
	classes []string
}

// NewEncoder builds an encoder over the distinct values of ids.
func NewEncoder(ids []string) *Encoder {
	classes := slices.Clone(ids)
	slices.Sort(classes)
	classes = slices.Compact(classes)

	index := make(map[string]int, len(classes))
	for i, id := range classes {
		index[id] = i
	}
	return &Encoder{index: index, classes: classes}
}

// FromClasses restores an encoder from a persisted vocabulary. The classes
// must be distinct and sorted so that indices match the fitted encoder.
func FromClasses(classes []string) (*Encoder, error) {
	for i := 1; i < len(classes); i++ {
		if classes[i-1] >= classes[i] {
			return nil, fmt.Errorf("%w: %q precedes %q", ErrInvalidVocabulary, classes[i-1], classes[i])
		}
	}
	return NewEncoder(classes), nil
}

// Len returns the vocabulary size.
func (e *Encoder) Len() int {
	return len(e.classes)
}

// Classes returns a copy of the vocabulary in index order.
func (e *Encoder) Classes() []string {
	return slices.Clone(e.classes)
}

// TryEncode returns the index for id and whether it was known.
func (e *Encoder) TryEncode(id string) (int, bool) {
	idx, ok := e.index[id]
	return idx, ok
}

// Encode returns the index for id.
func (e *Encoder) Encode(id string) (int, error) {
	idx, ok := e.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIdentifier, id)
	}
	return idx, nil
}

// Decode returns the identifier at idx.
func (e *Encoder) Decode(idx int) (string, error) {
	if idx < 0 || idx >= len(e.classes) {
		return "", fmt.Errorf("%w: index %d out of range [0, %d)", ErrUnknownIdentifier, idx, len(e.classes))
	}
	return e.classes[idx], nil
}

// Codec pairs the user and product encoders fitted on one batch.
type Codec struct {
	Users    *Encoder
	Products *Encoder
}

// Fit builds a codec from the identifiers present in interactions.
func Fit(interactions []model.Interaction) *Codec {
	users := make([]string, len(interactions))
	products := make([]string, len(interactions))
	for i, in := range interactions {
		users[i] = in.UserID
		products[i] = in.ProductID
	}
	return &Codec{
		Users:    NewEncoder(users),
		Products: NewEncoder(products),
	}
}

// EncodePair resolves both identifiers of a training pair.
func (c *Codec) EncodePair(userID, productID string) (user, product int, err error) {
	if user, err = c.Users.Encode(userID); err != nil {
		return 0, 0, err
	}
	if product, err = c.Products.Encode(productID); err != nil {
		return 0, 0, err
	}
	return user, product, nil
}
