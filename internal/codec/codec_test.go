package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/affinity/internal/model"
)

func TestNewEncoder_SortedDenseIndices(t *testing.T) {
	enc := NewEncoder([]string{"u3", "u1", "u3", "u2", "u1"})

	assert.Equal(t, 3, enc.Len())
	assert.Equal(t, []string{"u1", "u2", "u3"}, enc.Classes())

	for want, id := range []string{"u1", "u2", "u3"} {
		idx, ok := enc.TryEncode(id)
		require.True(t, ok)
		assert.Equal(t, want, idx)
	}
}

func TestEncoder_RoundTrip(t *testing.T) {
	ids := []string{"42", "7", "alice", "bob", "1001", "zz-top"}
	enc := NewEncoder(ids)

	for _, id := range ids {
		idx, err := enc.Encode(id)
		require.NoError(t, err)
		got, err := enc.Decode(idx)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestEncoder_Unknown(t *testing.T) {
	enc := NewEncoder([]string{"a", "b"})

	_, ok := enc.TryEncode("c")
	assert.False(t, ok)

	_, err := enc.Encode("c")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)

	_, err = enc.Decode(2)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
	_, err = enc.Decode(-1)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestEncoder_ClassesIsACopy(t *testing.T) {
	enc := NewEncoder([]string{"a", "b"})
	classes := enc.Classes()
	classes[0] = "mutated"

	got, err := enc.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestFit(t *testing.T) {
	interactions := []model.Interaction{
		{UserID: "u2", ProductID: "p9", Score: 1},
		{UserID: "u1", ProductID: "p1", Score: 4},
		{UserID: "u1", ProductID: "p9", Score: 5},
	}

	c := Fit(interactions)
	assert.Equal(t, []string{"u1", "u2"}, c.Users.Classes())
	assert.Equal(t, []string{"p1", "p9"}, c.Products.Classes())

	u, p, err := c.EncodePair("u2", "p9")
	require.NoError(t, err)
	assert.Equal(t, 1, u)
	assert.Equal(t, 1, p)

	_, _, err = c.EncodePair("u3", "p1")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
	_, _, err = c.EncodePair("u1", "p2")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestFromClasses(t *testing.T) {
	enc, err := FromClasses([]string{"a", "b", "c"})
	require.NoError(t, err)
	idx, err := enc.Encode("c")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = FromClasses([]string{"b", "a"})
	assert.ErrorIs(t, err, ErrInvalidVocabulary)
	_, err = FromClasses([]string{"a", "a"})
	assert.ErrorIs(t, err, ErrInvalidVocabulary)

	empty, err := FromClasses(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}
