package collaborative

import (
	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/partnerrec/pkg/models"
)

// State is the serialisable part of a fitted model. Factor matrices are
// row-major with Rank columns.
type State struct {
	UserIDs        []uuid.UUID
	PartnerIDs     []uuid.UUID
	Rank           int
	UserFactors    []float64
	PartnerFactors []float64
}

// Model answers affinity queries from a fitted State. It is read-only and
// safe for concurrent use.
type Model struct {
	state    *State
	users    map[uuid.UUID]int
	partners map[uuid.UUID]int
}

func NewModel(state *State) *Model {
	m := &Model{
		state:    state,
		users:    make(map[uuid.UUID]int, len(state.UserIDs)),
		partners: make(map[uuid.UUID]int, len(state.PartnerIDs)),
	}
	for i, id := range state.UserIDs {
		m.users[id] = i
	}
	for i, id := range state.PartnerIDs {
		m.partners[id] = i
	}
	return m
}

func (m *Model) State() *State {
	return m.state
}

func (m *Model) userRow(i int) []float64 {
	k := m.state.Rank
	return m.state.UserFactors[i*k : (i+1)*k]
}

func (m *Model) partnerRow(i int) []float64 {
	k := m.state.Rank
	return m.state.PartnerFactors[i*k : (i+1)*k]
}

func (m *Model) HasUser(userID uuid.UUID) bool {
	_, ok := m.users[userID]
	return ok
}

// PredictAffinity returns the factor dot product. ok is false when either
// side was not part of training, which means no signal rather than zero.
func (m *Model) PredictAffinity(userID, partnerID uuid.UUID) (float64, bool) {
	u, ok := m.users[userID]
	if !ok {
		return 0, false
	}
	p, ok := m.partners[partnerID]
	if !ok {
		return 0, false
	}
	return floats.Dot(m.userRow(u), m.partnerRow(p)), true
}

// TopN ranks every trained partner for the user, best first, ties by id.
func (m *Model) TopN(userID uuid.UUID, n int) []models.ScoredPartner {
	u, ok := m.users[userID]
	if !ok || n <= 0 {
		return nil
	}
	xu := m.userRow(u)

	scored := make([]models.ScoredPartner, len(m.state.PartnerIDs))
	for p, id := range m.state.PartnerIDs {
		scored[p] = models.ScoredPartner{PartnerID: id, Score: floats.Dot(xu, m.partnerRow(p))}
	}
	models.SortScored(scored)

	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
