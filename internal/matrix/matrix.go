package matrix

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

// Index is a bidirectional id <-> dense position mapping. Positions follow
// ascending id order, so two builds over the same ids agree.
type Index struct {
	IDs []uuid.UUID
	pos map[uuid.UUID]int
}

func NewIndex(ids []uuid.UUID) *Index {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return models.LessID(sorted[i], sorted[j]) })

	idx := &Index{IDs: sorted, pos: make(map[uuid.UUID]int, len(sorted))}
	for i, id := range sorted {
		idx.pos[id] = i
	}
	return idx
}

func (x *Index) Len() int {
	return len(x.IDs)
}

func (x *Index) Pos(id uuid.UUID) (int, bool) {
	i, ok := x.pos[id]
	return i, ok
}

func (x *Index) ID(i int) uuid.UUID {
	return x.IDs[i]
}

// CSR is a compressed sparse row matrix. Column indices within a row are
// strictly ascending.
type CSR struct {
	Rows   int
	Cols   int
	RowPtr []int
	ColIdx []int
	Values []float64
}

// Row returns views into the column indices and values of row i.
func (m *CSR) Row(i int) ([]int, []float64) {
	start, end := m.RowPtr[i], m.RowPtr[i+1]
	return m.ColIdx[start:end], m.Values[start:end]
}

func (m *CSR) NNZ() int {
	return len(m.Values)
}

func (m *CSR) At(i, j int) (float64, bool) {
	cols, vals := m.Row(i)
	k := sort.SearchInts(cols, j)
	if k < len(cols) && cols[k] == j {
		return vals[k], true
	}
	return 0, false
}

func (m *CSR) Transpose() *CSR {
	t := &CSR{
		Rows:   m.Cols,
		Cols:   m.Rows,
		RowPtr: make([]int, m.Cols+1),
		ColIdx: make([]int, len(m.ColIdx)),
		Values: make([]float64, len(m.Values)),
	}
	for _, c := range m.ColIdx {
		t.RowPtr[c+1]++
	}
	for c := 0; c < m.Cols; c++ {
		t.RowPtr[c+1] += t.RowPtr[c]
	}
	next := make([]int, m.Cols)
	copy(next, t.RowPtr[:m.Cols])
	// walking rows in order keeps each transposed row sorted
	for r := 0; r < m.Rows; r++ {
		cols, vals := m.Row(r)
		for k, c := range cols {
			dst := next[c]
			t.ColIdx[dst] = r
			t.Values[dst] = vals[k]
			next[c]++
		}
	}
	return t
}

// Interactions is the user x partner implicit-rating matrix of one run.
type Interactions struct {
	Users    *Index
	Partners *Index
	// UserItems is users x partners; ItemUsers is its transpose.
	UserItems *CSR
	ItemUsers *CSR
}

// Build aggregates feature rows into the rating matrix. Duplicate
// (user, partner) pairs keep the maximum weighted rating.
func Build(rows []features.Row) (*Interactions, error) {
	if len(rows) == 0 {
		return nil, &models.DataIntegrityError{Stage: "matrix", Message: "no feature rows after filtering"}
	}

	userIDs := make([]uuid.UUID, 0, len(rows))
	partnerIDs := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		if math.IsNaN(r.WeightedRating) || math.IsInf(r.WeightedRating, 0) || r.WeightedRating <= 0 {
			return nil, &models.DataIntegrityError{
				Stage:   "matrix",
				Message: fmt.Sprintf("invalid weighted rating %v for user %s partner %s", r.WeightedRating, r.UserID, r.PartnerID),
			}
		}
		userIDs = append(userIDs, r.UserID)
		partnerIDs = append(partnerIDs, r.PartnerID)
	}

	users := NewIndex(userIDs)
	partners := NewIndex(partnerIDs)

	cells := make([]map[int]float64, users.Len())
	for _, r := range rows {
		u, _ := users.Pos(r.UserID)
		p, _ := partners.Pos(r.PartnerID)
		if cells[u] == nil {
			cells[u] = make(map[int]float64)
		}
		if r.WeightedRating > cells[u][p] {
			cells[u][p] = r.WeightedRating
		}
	}

	m := &CSR{
		Rows:   users.Len(),
		Cols:   partners.Len(),
		RowPtr: make([]int, users.Len()+1),
	}
	for u, row := range cells {
		cols := make([]int, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Ints(cols)
		for _, c := range cols {
			m.ColIdx = append(m.ColIdx, c)
			m.Values = append(m.Values, row[c])
		}
		m.RowPtr[u+1] = len(m.ColIdx)
	}

	return &Interactions{
		Users:     users,
		Partners:  partners,
		UserItems: m,
		ItemUsers: m.Transpose(),
	}, nil
}

// Value returns the aggregated rating of a (user, partner) pair.
func (m *Interactions) Value(userID, partnerID uuid.UUID) (float64, bool) {
	u, ok := m.Users.Pos(userID)
	if !ok {
		return 0, false
	}
	p, ok := m.Partners.Pos(partnerID)
	if !ok {
		return 0, false
	}
	return m.UserItems.At(u, p)
}

func (m *Interactions) Density() float64 {
	cells := m.Users.Len() * m.Partners.Len()
	if cells == 0 {
		return 0
	}
	return float64(m.UserItems.NNZ()) / float64(cells)
}
