package trending

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

// Overall is the category key of the global list.
const Overall = "overall"

const (
	redemptionWeight = 2.0
	viewWeight       = 1.0
)

// DatabaseQuerier interface for database operations
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const countsQuery = `
	SELECT
		p.id,
		COALESCE(p.category, ''),
		COALESCE(p.rating, 0)::float8,
		COUNT(*) FILTER (WHERE i.event_type = 'redemption')::int AS redemptions,
		COUNT(*) FILTER (WHERE i.event_type = 'view')::int AS views
	FROM interactions i
	JOIN partners p ON p.id = i.partner_id
	WHERE i."timestamp" > $1
	GROUP BY p.id, p.category, p.rating
	ORDER BY p.id`

type Config struct {
	Window time.Duration
	Limit  int
}

// Lists holds one ranked list per category plus the Overall list.
type Lists struct {
	ComputedAt time.Time
	ByCategory map[string][]models.ScoredPartner
}

// For returns the list of a category, or nil when nothing trended there.
func (l *Lists) For(category string) []models.ScoredPartner {
	if category == "" || category == Overall {
		return l.ByCategory[Overall]
	}
	return l.ByCategory[features.NormalizeLabel(category)]
}

type Ranker struct {
	db     DatabaseQuerier
	config Config
	logger *logrus.Logger
	now    func() time.Time
}

func NewRanker(db DatabaseQuerier, cfg Config, logger *logrus.Logger) *Ranker {
	return &Ranker{db: db, config: cfg, logger: logger, now: time.Now}
}

func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

type counted struct {
	id          uuid.UUID
	category    string
	rating      float64
	redemptions int
	views       int
}

// Compute ranks partners by redemptions*2 + views over the trailing window,
// globally and per category.
func (r *Ranker) Compute(ctx context.Context) (*Lists, error) {
	now := r.now().UTC()
	since := now.Add(-r.config.Window)

	rows, err := r.db.Query(ctx, countsQuery, since)
	if err != nil {
		return nil, fmt.Errorf("trending query failed: %w", err)
	}
	defer rows.Close()

	var all []counted
	for rows.Next() {
		var c counted
		if err := rows.Scan(&c.id, &c.category, &c.rating, &c.redemptions, &c.views); err != nil {
			return nil, fmt.Errorf("failed to scan trending row: %w", err)
		}
		c.category = features.NormalizeLabel(c.category)
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trending query failed: %w", err)
	}

	grouped := map[string][]counted{Overall: nil}
	for _, c := range all {
		if score(c) <= 0 {
			continue
		}
		grouped[Overall] = append(grouped[Overall], c)
		if c.category != features.UnknownLabel {
			grouped[c.category] = append(grouped[c.category], c)
		}
	}

	lists := &Lists{ComputedAt: now, ByCategory: make(map[string][]models.ScoredPartner, len(grouped))}
	for category, members := range grouped {
		lists.ByCategory[category] = r.rank(members)
	}

	r.logger.WithFields(logrus.Fields{
		"partners":   len(grouped[Overall]),
		"categories": len(grouped) - 1,
		"since":      since.Format(time.RFC3339),
	}).Debug("Trending lists computed")

	return lists, nil
}

// Rank computes the list for one category on the fly.
func (r *Ranker) Rank(ctx context.Context, category string) ([]models.ScoredPartner, error) {
	lists, err := r.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return lists.For(category), nil
}

func (r *Ranker) rank(members []counted) []models.ScoredPartner {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if sa, sb := score(a), score(b); sa != sb {
			return sa > sb
		}
		if a.rating != b.rating {
			return a.rating > b.rating
		}
		return models.LessID(a.id, b.id)
	})
	if r.config.Limit > 0 && len(members) > r.config.Limit {
		members = members[:r.config.Limit]
	}

	out := make([]models.ScoredPartner, len(members))
	for i, c := range members {
		out[i] = models.ScoredPartner{PartnerID: c.id, Score: score(c)}
	}
	return out
}

func score(c counted) float64 {
	return redemptionWeight*float64(c.redemptions) + viewWeight*float64(c.views)
}
