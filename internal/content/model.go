package content

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/partnerrec/pkg/models"
)

type Config struct {
	Clusters      int
	MaxIterations int
	Seed          int64
	SimilarLimit  int
}

// State is the serialisable part of a fitted content model.
type State struct {
	PartnerIDs  []uuid.UUID
	Vocabulary  Vocabulary
	Vectors     [][]float64
	Centroids   [][]float64
	Assignments []int
}

// Model scores partners against a user's history by cosine similarity. It
// is read-only and safe for concurrent use.
type Model struct {
	state *State
	index map[uuid.UUID]int
}

// Centroid is the weighted mean vector of the partners a user touched.
type Centroid []float64

type Fitter struct {
	config Config
	logger *logrus.Logger
}

func NewFitter(cfg Config, logger *logrus.Logger) *Fitter {
	return &Fitter{config: cfg, logger: logger}
}

// Fit clusters the catalog. The partner order of the input is kept, so
// callers pass an id-sorted catalog for reproducible output.
func (f *Fitter) Fit(ctx context.Context, partners []models.Partner) (*Model, error) {
	if len(partners) == 0 {
		return nil, &models.ModelFitError{Stage: "content", Message: "no partners to cluster"}
	}
	if f.config.Clusters <= 0 || f.config.MaxIterations <= 0 {
		return nil, &models.ModelFitError{
			Stage:   "content",
			Message: fmt.Sprintf("invalid parameters clusters=%d max_iterations=%d", f.config.Clusters, f.config.MaxIterations),
		}
	}

	start := time.Now()
	vocab := BuildVocabulary(partners)
	ids := make([]uuid.UUID, len(partners))
	vectors := make([][]float64, len(partners))
	for i, p := range partners {
		ids[i] = p.ID
		vectors[i] = vocab.Vector(p)
	}

	k := f.config.Clusters
	if k > len(partners) {
		k = len(partners)
	}

	result, err := kmeans(ctx, vectors, k, f.config.MaxIterations, rand.New(rand.NewSource(f.config.Seed)))
	if err != nil {
		return nil, err
	}
	for _, c := range result.centroids {
		for _, v := range c {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &models.ModelFitError{Stage: "content", Message: "centroid diverged to non-finite values"}
			}
		}
	}

	model := NewModel(&State{
		PartnerIDs:  ids,
		Vocabulary:  vocab,
		Vectors:     vectors,
		Centroids:   result.centroids,
		Assignments: result.assign,
	})

	f.logger.WithFields(logrus.Fields{
		"partners":   len(partners),
		"clusters":   k,
		"dimensions": vocab.Dim(),
		"iterations": result.iterations,
		"duration":   time.Since(start),
	}).Info("Content model fitted")

	return model, nil
}

func NewModel(state *State) *Model {
	m := &Model{state: state, index: make(map[uuid.UUID]int, len(state.PartnerIDs))}
	for i, id := range state.PartnerIDs {
		m.index[id] = i
	}
	return m
}

func (m *Model) State() *State {
	return m.state
}

func (m *Model) Cluster(partnerID uuid.UUID) (int, bool) {
	i, ok := m.index[partnerID]
	if !ok {
		return 0, false
	}
	return m.state.Assignments[i], true
}

// UserCentroid averages the vectors of the given partners weighted by the
// user's rating. Partners outside the catalog are ignored.
func (m *Model) UserCentroid(weights map[uuid.UUID]float64) (Centroid, bool) {
	rows := make([]int, 0, len(weights))
	for id, w := range weights {
		if i, ok := m.index[id]; ok && w > 0 {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return nil, false
	}
	// fixed summation order keeps results bit-identical across runs
	sort.Ints(rows)

	centroid := make([]float64, m.state.Vocabulary.Dim())
	var total float64
	for _, i := range rows {
		w := weights[m.state.PartnerIDs[i]]
		floats.AddScaled(centroid, w, m.state.Vectors[i])
		total += w
	}
	floats.Scale(1/total, centroid)
	return centroid, true
}

// PredictSimilarity is the cosine similarity between the centroid and the
// partner, clamped to [0, 1].
func (m *Model) PredictSimilarity(c Centroid, partnerID uuid.UUID) (float64, bool) {
	i, ok := m.index[partnerID]
	if !ok || len(c) == 0 {
		return 0, false
	}
	return cosine(c, m.state.Vectors[i]), true
}

// SimilarCandidates ranks the catalog against the centroid, best first.
func (m *Model) SimilarCandidates(c Centroid, n int) []models.ScoredPartner {
	if len(c) == 0 || n <= 0 {
		return nil
	}
	scored := make([]models.ScoredPartner, len(m.state.PartnerIDs))
	for i, id := range m.state.PartnerIDs {
		scored[i] = models.ScoredPartner{PartnerID: id, Score: cosine(c, m.state.Vectors[i])}
	}
	models.SortScored(scored)
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// SimilarTo lists partners like the given one: its own cluster first, then
// by similarity, then by id.
func (m *Model) SimilarTo(partnerID uuid.UUID, n int) []models.ScoredPartner {
	src, ok := m.index[partnerID]
	if !ok || n <= 0 {
		return nil
	}
	cluster := m.state.Assignments[src]

	type candidate struct {
		models.ScoredPartner
		same bool
	}
	candidates := make([]candidate, 0, len(m.state.PartnerIDs)-1)
	for i, id := range m.state.PartnerIDs {
		if i == src {
			continue
		}
		candidates = append(candidates, candidate{
			ScoredPartner: models.ScoredPartner{PartnerID: id, Score: cosine(m.state.Vectors[src], m.state.Vectors[i])},
			same:          m.state.Assignments[i] == cluster,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.same != b.same {
			return a.same
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return models.LessID(a.PartnerID, b.PartnerID)
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]models.ScoredPartner, len(candidates))
	for i, c := range candidates {
		out[i] = c.ScoredPartner
	}
	return out
}

func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(floats.Dot(a, b)/(na*nb), 0, 1)
}
