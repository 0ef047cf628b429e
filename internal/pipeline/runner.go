package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/collaborative"
	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/internal/graph"
	"github.com/temcen/partnerrec/internal/hybrid"
	"github.com/temcen/partnerrec/internal/matrix"
	"github.com/temcen/partnerrec/internal/trending"
	"github.com/temcen/partnerrec/pkg/models"
)

const (
	StageExtract  = "extract"
	StageMatrix   = "matrix"
	StageFit      = "fit"
	StageScore    = "score"
	StageValidate = "validate"
	StageSave     = "save"
	StageCache    = "cache"
	StageTrending = "trending"
	StageActivate = "activate"
	StagePublish  = "publish"
)

type Extractor interface {
	Extract(ctx context.Context) (*features.Snapshot, error)
}

type TrendingComputer interface {
	Compute(ctx context.Context) (*trending.Lists, error)
}

// ListWriter is the write side of the serving cache. Lists are written
// into a generation named by the run id; personalized lists go live with
// the artifact of the same run, trending lists with ActivateTrending.
type ListWriter interface {
	PutUser(ctx context.Context, generation string, userID uuid.UUID, list []models.ScoredPartner) error
	PutTrending(ctx context.Context, generation, category string, list []models.ScoredPartner) error
	ActivateTrending(ctx context.Context, generation string) error
}

type ArtifactStore interface {
	Save(ctx context.Context, a *artifact.Artifact) (*artifact.Manifest, error)
	Activate(ctx context.Context, runID string) error
}

type SimilarityPublisher interface {
	PublishSimilar(ctx context.Context, runID string, edges []graph.Edge) error
}

type EventPublisher interface {
	PublishModelActivated(ctx context.Context, runID string, trainedAt time.Time, checksum string) error
	PublishTrendingRefreshed(ctx context.Context, runID string) error
}

// Observer receives run telemetry.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveRun(kind string, status RunStatus)
}

type noopObserver struct{}

func (noopObserver) ObserveStage(string, time.Duration) {}
func (noopObserver) ObserveRun(string, RunStatus)       {}

type Config struct {
	Collaborative collaborative.Config
	Content       content.Config
	Hybrid        hybrid.Config
	// GraphEdges is how many similar partners per partner go to the graph.
	GraphEdges int
}

type RunResult struct {
	RunID    string
	Kind     string
	Manifest *artifact.Manifest
	Stats    RunStats
}

// Runner executes training and trending runs. A run either finishes with a
// new active artifact or leaves the previous one in place.
type Runner struct {
	extractor Extractor
	trending  TrendingComputer
	lists     ListWriter
	artifacts ArtifactStore
	ledger    *Ledger
	graph     SimilarityPublisher
	events    EventPublisher
	observer  Observer
	config    Config
	logger    *logrus.Logger
	now       func() time.Time
	newRunID  func(time.Time) string
}

func NewRunner(
	extractor Extractor,
	ranker TrendingComputer,
	lists ListWriter,
	artifacts ArtifactStore,
	ledger *Ledger,
	cfg Config,
	logger *logrus.Logger,
) *Runner {
	return &Runner{
		extractor: extractor,
		trending:  ranker,
		lists:     lists,
		artifacts: artifacts,
		ledger:    ledger,
		observer:  noopObserver{},
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		newRunID:  NewRunID,
	}
}

// WithGraph enables publishing of the similar-partner graph.
func (r *Runner) WithGraph(g SimilarityPublisher) *Runner {
	r.graph = g
	return r
}

// WithEvents enables model events after activation.
func (r *Runner) WithEvents(e EventPublisher) *Runner {
	r.events = e
	return r
}

func (r *Runner) WithObserver(o Observer) *Runner {
	if o != nil {
		r.observer = o
	}
	return r
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

func (r *Runner) WithRunIDs(newRunID func(time.Time) string) *Runner {
	r.newRunID = newRunID
	return r
}

// NewRunID builds a sortable run id: UTC start time plus a random suffix.
func NewRunID(start time.Time) string {
	return start.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

// Run executes one full training run.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	return r.execute(ctx, KindTraining, r.train)
}

// RunTrending recomputes and writes the fallback lists only.
func (r *Runner) RunTrending(ctx context.Context) (*RunResult, error) {
	return r.execute(ctx, KindTrending, r.refreshTrending)
}

type runFunc func(ctx context.Context, rec *RunRecord, log *logrus.Entry) (*RunResult, error)

func (r *Runner) execute(ctx context.Context, kind string, fn runFunc) (*RunResult, error) {
	start := r.now().UTC()
	runID := r.newRunID(start)
	rec := r.ledger.Start(ctx, runID, kind, start)

	log := r.logger.WithFields(logrus.Fields{
		"training_run_id": runID,
		"kind":            kind,
	})
	log.Info("Run started")

	result, err := fn(ctx, rec, log)

	finished := r.now().UTC()
	// the ledger write must survive a cancelled run context
	r.ledger.Finish(context.WithoutCancel(ctx), rec, err, finished)
	r.observer.ObserveRun(kind, rec.Status)

	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"stage":      rec.Stage,
			"error_kind": ErrorKind(err),
		}).Error("Run failed, previous artifact stays active")
		return nil, err
	}

	result.RunID = runID
	result.Kind = kind
	result.Stats = rec.Stats
	log.WithFields(logrus.Fields{
		"duration":      finished.Sub(start).String(),
		"lists_written": rec.Stats.ListsWritten,
		"empty_lists":   rec.Stats.EmptyLists,
	}).Info("Run completed")
	return result, nil
}

func (r *Runner) stage(ctx context.Context, rec *RunRecord, log *logrus.Entry, name string, fn func() error) error {
	r.ledger.Stage(ctx, rec, name)
	started := time.Now()
	err := fn()
	elapsed := time.Since(started)
	r.ledger.StageDone(rec, name, elapsed)
	r.observer.ObserveStage(name, elapsed)
	log.WithFields(logrus.Fields{"stage": name, "elapsed": elapsed.String()}).Debug("Stage finished")
	return err
}

type userList struct {
	userID uuid.UUID
	list   []models.ScoredPartner
}

func (r *Runner) train(ctx context.Context, rec *RunRecord, log *logrus.Entry) (*RunResult, error) {
	runID := rec.RunID

	var snapshot *features.Snapshot
	if err := r.stage(ctx, rec, log, StageExtract, func() error {
		var err error
		snapshot, err = r.extractor.Extract(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	rec.Stats.FeatureRows = len(snapshot.Rows)
	rec.Stats.ExcludedUsers = snapshot.ExcludedUsers
	rec.Stats.DroppedEvents = snapshot.DroppedEvents

	var data *matrix.Interactions
	if err := r.stage(ctx, rec, log, StageMatrix, func() error {
		var err error
		data, err = matrix.Build(snapshot.Rows)
		return err
	}); err != nil {
		return nil, err
	}
	rec.Stats.Users = data.Users.Len()
	rec.Stats.Partners = data.Partners.Len()
	rec.Stats.MatrixDensity = data.Density()

	var (
		cfModel *collaborative.Model
		cbModel *content.Model
	)
	if err := r.stage(ctx, rec, log, StageFit, func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			cfModel, err = collaborative.NewTrainer(r.config.Collaborative, r.logger).Fit(gctx, data)
			return err
		})
		g.Go(func() error {
			var err error
			cbModel, err = content.NewFitter(r.config.Content, r.logger).Fit(gctx, snapshot.Partners)
			return err
		})
		return g.Wait()
	}); err != nil {
		return nil, err
	}

	scorer := hybrid.NewScorer(cfModel, cbModel, snapshot, r.config.Hybrid).
		WithClock(func() time.Time { return snapshot.ExtractedAt })

	var lists []userList
	if err := r.stage(ctx, rec, log, StageScore, func() error {
		users := snapshot.ScoredUsers()
		lists = make([]userList, 0, len(users))
		for i, userID := range users {
			if i%1000 == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			lists = append(lists, userList{userID: userID, list: scorer.Score(userID)})
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, rec, log, StageValidate, func() error {
		return validateRun(data, cfModel, cbModel, lists, r.config.Hybrid.NumRecommendations)
	}); err != nil {
		return nil, err
	}

	var manifest *artifact.Manifest
	if err := r.stage(ctx, rec, log, StageSave, func() error {
		var err error
		manifest, err = r.artifacts.Save(ctx, buildArtifact(runID, snapshot, scorer.Weights(), cfModel, cbModel))
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, rec, log, StageCache, func() error {
		for _, ul := range lists {
			if err := r.lists.PutUser(ctx, runID, ul.userID, ul.list); err != nil {
				return err
			}
			rec.Stats.ListsWritten++
			if len(ul.list) == 0 {
				rec.Stats.EmptyLists++
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, rec, log, StageTrending, func() error {
		written, err := r.writeTrending(ctx, runID, snapshot.CategoryLabels())
		rec.Stats.ListsWritten += written
		return err
	}); err != nil {
		return nil, err
	}

	// The artifact pointer is the commit point: it makes this run's model
	// and personalized lists live together.
	if err := r.stage(ctx, rec, log, StageActivate, func() error {
		return r.artifacts.Activate(ctx, runID)
	}); err != nil {
		return nil, err
	}
	if err := r.lists.ActivateTrending(ctx, runID); err != nil {
		log.WithError(err).Warn("Failed to activate trending lists, previous trending generation stays live")
	}

	// Everything below is a side channel: the run already succeeded.
	_ = r.stage(ctx, rec, log, StagePublish, func() error {
		if r.graph != nil {
			edges := graph.EdgesFromModel(cbModel, r.config.GraphEdges)
			if err := r.graph.PublishSimilar(ctx, runID, edges); err != nil {
				log.WithError(err).Warn("Failed to publish similarity graph")
			}
		}
		if r.events != nil {
			if err := r.events.PublishModelActivated(ctx, runID, manifest.TrainedAt, manifest.Checksum); err != nil {
				log.WithError(err).Warn("Failed to publish model activation")
			}
		}
		return nil
	})

	return &RunResult{Manifest: manifest}, nil
}

func (r *Runner) refreshTrending(ctx context.Context, rec *RunRecord, log *logrus.Entry) (*RunResult, error) {
	if err := r.stage(ctx, rec, log, StageTrending, func() error {
		written, err := r.writeTrending(ctx, rec.RunID, nil)
		rec.Stats.ListsWritten = written
		if err != nil {
			return err
		}
		return r.lists.ActivateTrending(ctx, rec.RunID)
	}); err != nil {
		return nil, err
	}

	if r.events != nil {
		if err := r.events.PublishTrendingRefreshed(ctx, rec.RunID); err != nil {
			log.WithError(err).Warn("Failed to publish trending refresh")
		}
	}
	return &RunResult{}, nil
}

// writeTrending fills a trending generation with the overall list, every
// category that trended and every extra category, the latter possibly
// empty so a category without recent activity still resolves.
func (r *Runner) writeTrending(ctx context.Context, generation string, extra []string) (int, error) {
	lists, err := r.trending.Compute(ctx)
	if err != nil {
		return 0, err
	}

	seen := map[string]struct{}{trending.Overall: {}}
	for category := range lists.ByCategory {
		seen[category] = struct{}{}
	}
	for _, category := range extra {
		seen[features.NormalizeLabel(category)] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for category := range seen {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		if err := r.lists.PutTrending(ctx, generation, category, lists.For(category)); err != nil {
			return 0, err
		}
	}
	return len(categories), nil
}

// validateRun is the last gate before anything is written.
func validateRun(data *matrix.Interactions, cf *collaborative.Model, cb *content.Model, lists []userList, limit int) error {
	fail := func(format string, args ...interface{}) error {
		return &models.ModelFitError{Stage: StageValidate, Message: fmt.Sprintf(format, args...)}
	}

	state := cf.State()
	if len(state.UserIDs) != data.Users.Len() || len(state.PartnerIDs) != data.Partners.Len() {
		return fail("collaborative factors cover %d users and %d partners, matrix has %d and %d",
			len(state.UserIDs), len(state.PartnerIDs), data.Users.Len(), data.Partners.Len())
	}
	for _, v := range state.UserFactors {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("user factors are not finite")
		}
	}
	for _, v := range state.PartnerFactors {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("partner factors are not finite")
		}
	}
	for _, centroid := range cb.State().Centroids {
		for _, v := range centroid {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fail("content centroids are not finite")
			}
		}
	}

	nonEmpty := 0
	for _, ul := range lists {
		if limit > 0 && len(ul.list) > limit {
			return fail("user %s has %d recommendations, limit is %d", ul.userID, len(ul.list), limit)
		}
		seen := make(map[uuid.UUID]struct{}, len(ul.list))
		for _, sp := range ul.list {
			if _, dup := seen[sp.PartnerID]; dup {
				return fail("user %s has partner %s twice", ul.userID, sp.PartnerID)
			}
			seen[sp.PartnerID] = struct{}{}
			if math.IsNaN(sp.Score) || math.IsInf(sp.Score, 0) {
				return fail("user %s has a non-finite score", ul.userID)
			}
		}
		if len(ul.list) > 0 {
			nonEmpty++
		}
	}
	if len(lists) > 0 && nonEmpty == 0 {
		return fail("no user received a recommendation")
	}
	return nil
}

func buildArtifact(runID string, snapshot *features.Snapshot, weights hybrid.Weights, cf *collaborative.Model, cb *content.Model) *artifact.Artifact {
	profiles := make([]models.UserProfile, 0, len(snapshot.Users))
	for _, p := range snapshot.Users {
		if len(p.PreferredCategories) == 0 {
			continue
		}
		profiles = append(profiles, *p)
	}
	sort.Slice(profiles, func(i, j int) bool { return models.LessID(profiles[i].UserID, profiles[j].UserID) })

	return &artifact.Artifact{
		RunID:         runID,
		TrainedAt:     snapshot.ExtractedAt,
		Weights:       weights,
		Collaborative: cf.State(),
		Content:       cb.State(),
		Partners:      snapshot.Partners,
		Profiles:      profiles,
		Categories:    snapshot.Categories.Labels,
		Tiers:         snapshot.Tiers.Labels,
	}
}
