package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"daftar/internal/store"
)

func TestOverlapRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"Identical", "likes black coffee", "likes black coffee", 1.0},
		{"Disjoint", "likes coffee", "owns a dog", 0.0},
		{"HalfOfSmaller", "likes tea", "likes green smoothies now", 0.5},
		{"CaseInsensitive", "Likes COFFEE", "likes coffee", 1.0},
		{"RepeatedWordsCollapse", "coffee coffee coffee", "coffee", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlapRatio(wordSet(tt.a), wordSet(tt.b))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFindConflict(t *testing.T) {
	active := []store.ActiveMemory{
		{ID: 1, Content: "enjoys hiking on weekends"},
		{ID: 2, Content: "drinks black coffee every morning"},
		{ID: 3, Content: "drinks green tea every morning"},
	}

	t.Run("FirstCollidingRowWins", func(t *testing.T) {
		// Collides with both 2 and 3; ascending id order picks 2.
		c := findConflict("drinks oat milk coffee every morning", active)
		assert.NotNil(t, c)
		assert.Equal(t, int64(2), c.ID)
	})

	t.Run("BelowThresholdNoConflict", func(t *testing.T) {
		c := findConflict("works remotely from Lisbon", active)
		assert.Nil(t, c)
	})

	t.Run("EmptyCandidateNeverCollides", func(t *testing.T) {
		assert.Nil(t, findConflict("   ", active))
	})

	t.Run("EmptyExistingSkipped", func(t *testing.T) {
		withEmpty := []store.ActiveMemory{{ID: 9, Content: " "}, {ID: 10, Content: "likes tea"}}
		c := findConflict("likes tea", withEmpty)
		assert.NotNil(t, c)
		assert.Equal(t, int64(10), c.ID)
	})

	t.Run("ThresholdBoundaryInclusive", func(t *testing.T) {
		// Smaller set has 5 words, 3 shared: ratio exactly 0.60.
		existing := []store.ActiveMemory{{ID: 1, Content: "alpha beta gamma delta epsilon"}}
		c := findConflict("alpha beta gamma zeta eta", existing)
		assert.NotNil(t, c)
	})
}
