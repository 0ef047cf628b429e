package collaborative

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/partnerrec/internal/matrix"
	"github.com/temcen/partnerrec/pkg/models"
)

type Config struct {
	Rank           int
	Iterations     int
	Regularization float64
	// Alpha scales confidence: c = 1 + alpha * r.
	Alpha   float64
	Workers int
	Seed    int64
	TopN    int
}

// Trainer fits implicit-feedback ALS factors (Hu, Koren, Volinsky 2008):
//
//	min sum c_ui (p_ui - x_u . y_i)^2 + lambda (|x_u|^2 + |y_i|^2)
//
// with p_ui = 1 for observed pairs. Each half step solves one k x k system
// per row by Cholesky, rows split across workers.
type Trainer struct {
	config Config
	logger *logrus.Logger
}

func NewTrainer(cfg Config, logger *logrus.Logger) *Trainer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Trainer{config: cfg, logger: logger}
}

// Fit trains on m and returns an immutable model. Any numeric failure is a
// ModelFitError; the caller keeps whatever model it had before.
func (t *Trainer) Fit(ctx context.Context, m *matrix.Interactions) (*Model, error) {
	if t.config.Rank <= 0 || t.config.Iterations <= 0 || t.config.Regularization < 0 {
		return nil, &models.ModelFitError{
			Stage:   "collaborative",
			Message: fmt.Sprintf("invalid parameters rank=%d iterations=%d regularization=%v", t.config.Rank, t.config.Iterations, t.config.Regularization),
		}
	}
	if m == nil || m.UserItems.NNZ() == 0 {
		return nil, &models.ModelFitError{Stage: "collaborative", Message: "empty interaction matrix"}
	}

	start := time.Now()
	k := t.config.Rank
	rng := rand.New(rand.NewSource(t.config.Seed))
	x := randomFactors(rng, m.Users.Len(), k)
	y := randomFactors(rng, m.Partners.Len(), k)

	for iter := 0; iter < t.config.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.halfStep(ctx, x, y, m.UserItems); err != nil {
			return nil, err
		}
		if err := t.halfStep(ctx, y, x, m.ItemUsers); err != nil {
			return nil, err
		}
	}

	if !finite(x) || !finite(y) {
		return nil, &models.ModelFitError{Stage: "collaborative", Message: "factors diverged to non-finite values"}
	}

	state := &State{
		UserIDs:        append(m.Users.IDs[:0:0], m.Users.IDs...),
		PartnerIDs:     append(m.Partners.IDs[:0:0], m.Partners.IDs...),
		Rank:           k,
		UserFactors:    append([]float64(nil), x.RawMatrix().Data...),
		PartnerFactors: append([]float64(nil), y.RawMatrix().Data...),
	}
	model := NewModel(state)

	t.logger.WithFields(logrus.Fields{
		"users":      m.Users.Len(),
		"partners":   m.Partners.Len(),
		"nnz":        m.UserItems.NNZ(),
		"rank":       k,
		"iterations": t.config.Iterations,
		"loss":       model.loss(m, t.config.Alpha, t.config.Regularization),
		"duration":   time.Since(start),
	}).Info("Collaborative model fitted")

	return model, nil
}

// halfStep recomputes every row of solve while fixed stays constant.
// ratings rows index solve, columns index fixed.
func (t *Trainer) halfStep(ctx context.Context, solve, fixed *mat.Dense, ratings *matrix.CSR) error {
	k := t.config.Rank
	lambda := t.config.Regularization

	gram := mat.NewSymDense(k, nil)
	gram.SymOuterK(1, fixed.T())

	rows := ratings.Rows
	workers := t.config.Workers
	chunk := (rows + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > rows {
			hi = rows
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			a := mat.NewSymDense(k, nil)
			b := mat.NewVecDense(k, nil)
			var sol mat.VecDense
			var chol mat.Cholesky
			for r := lo; r < hi; r++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				a.CopySym(gram)
				for f := 0; f < k; f++ {
					a.SetSym(f, f, a.At(f, f)+lambda)
				}
				b.Zero()

				cols, vals := ratings.Row(r)
				for j, c := range cols {
					conf := 1 + t.config.Alpha*vals[j]
					v := fixed.RowView(c)
					a.SymRankOne(a, conf-1, v)
					b.AddScaledVec(b, conf, v)
				}

				if ok := chol.Factorize(a); !ok {
					return &models.ModelFitError{
						Stage:   "collaborative",
						Message: fmt.Sprintf("normal equations for row %d are not positive definite", r),
					}
				}
				if err := chol.SolveVecTo(&sol, b); err != nil {
					return &models.ModelFitError{Stage: "collaborative", Message: "cholesky solve failed", Cause: err}
				}
				solve.SetRow(r, sol.RawVector().Data)
			}
			return nil
		})
	}
	return g.Wait()
}

func randomFactors(rng *rand.Rand, n, k int) *mat.Dense {
	data := make([]float64, n*k)
	for i := range data {
		data[i] = 0.1 * (rng.Float64() - 0.5)
	}
	return mat.NewDense(n, k, data)
}

func finite(m *mat.Dense) bool {
	for _, v := range m.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// loss is the weighted squared error over observed pairs plus the L2 term.
// Unobserved pairs are left out; it is a training log signal only.
func (m *Model) loss(data *matrix.Interactions, alpha, lambda float64) float64 {
	var total float64
	for u := 0; u < data.UserItems.Rows; u++ {
		cols, vals := data.UserItems.Row(u)
		xu := m.userRow(u)
		for j, c := range cols {
			diff := 1 - floats.Dot(xu, m.partnerRow(c))
			total += (1 + alpha*vals[j]) * diff * diff
		}
	}
	return total + lambda*(floats.Dot(m.state.UserFactors, m.state.UserFactors)+
		floats.Dot(m.state.PartnerFactors, m.state.PartnerFactors))
}
