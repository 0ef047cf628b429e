package matrix

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

var (
	u1 = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	u2 = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	pA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	pB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	pC = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
)

func row(user, partner uuid.UUID, weighted float64) features.Row {
	return features.Row{UserID: user, PartnerID: partner, WeightedRating: weighted}
}

func TestBuild(t *testing.T) {
	rows := []features.Row{
		row(u2, pC, 0.8),
		row(u1, pA, 1.6),
		row(u1, pA, 4.0),
		row(u1, pA, 0.8),
		row(u1, pB, 2.4),
		row(u2, pA, 1.2),
	}

	m, err := Build(rows)
	require.NoError(t, err)

	t.Run("one row and column per id", func(t *testing.T) {
		assert.Equal(t, []uuid.UUID{u1, u2}, m.Users.IDs)
		assert.Equal(t, []uuid.UUID{pA, pB, pC}, m.Partners.IDs)
		assert.Equal(t, 2, m.UserItems.Rows)
		assert.Equal(t, 3, m.UserItems.Cols)
	})

	t.Run("duplicates keep the maximum", func(t *testing.T) {
		v, ok := m.Value(u1, pA)
		require.True(t, ok)
		assert.Equal(t, 4.0, v)
		assert.Equal(t, 5, m.UserItems.NNZ())
	})

	t.Run("missing pairs have no value", func(t *testing.T) {
		_, ok := m.Value(u1, pC)
		assert.False(t, ok)
		_, ok = m.Value(uuid.New(), pA)
		assert.False(t, ok)
	})

	t.Run("transpose mirrors the matrix", func(t *testing.T) {
		for u := 0; u < m.UserItems.Rows; u++ {
			cols, vals := m.UserItems.Row(u)
			for k, p := range cols {
				v, ok := m.ItemUsers.At(p, u)
				require.True(t, ok)
				assert.Equal(t, vals[k], v)
			}
		}
		users, _ := m.ItemUsers.Row(0)
		assert.Equal(t, []int{0, 1}, users)
	})

	t.Run("density", func(t *testing.T) {
		assert.InDelta(t, 5.0/6.0, m.Density(), 1e-12)
	})
}

func TestBuild_Deterministic(t *testing.T) {
	rows := []features.Row{row(u1, pB, 1), row(u2, pA, 2), row(u1, pA, 3)}
	reversed := []features.Row{rows[2], rows[1], rows[0]}

	a, err := Build(rows)
	require.NoError(t, err)
	b, err := Build(reversed)
	require.NoError(t, err)

	assert.Equal(t, a.UserItems, b.UserItems)
	assert.Equal(t, a.Partners.IDs, b.Partners.IDs)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows []features.Row
	}{
		{"empty input", nil},
		{"nan rating", []features.Row{row(u1, pA, math.NaN())}},
		{"infinite rating", []features.Row{row(u1, pA, math.Inf(1))}},
		{"zero rating", []features.Row{row(u1, pA, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.rows)
			require.Error(t, err)
			assert.True(t, models.IsDataIntegrity(err))
		})
	}
}

func TestIndex(t *testing.T) {
	idx := NewIndex([]uuid.UUID{pC, pA, pC, pB})
	assert.Equal(t, 3, idx.Len())

	pos, ok := idx.Pos(pC)
	require.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.Equal(t, pA, idx.ID(0))

	_, ok = idx.Pos(u1)
	assert.False(t, ok)
}
