package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/pkg/models"
)

const defaultBatchSize = 500

// Edge is one SIMILAR_TO relationship between two partners. Rank is the
// neighbour's position in the content model's ordering (0 first), which
// puts same-cluster partners ahead of closer ones elsewhere.
type Edge struct {
	From  uuid.UUID
	To    uuid.UUID
	Score float64
	Rank  int
}

// EdgesFromModel lists the top similar partners of every partner in the
// content model.
func EdgesFromModel(model *content.Model, perPartner int) []Edge {
	var edges []Edge
	for _, from := range model.State().PartnerIDs {
		for rank, sp := range model.SimilarTo(from, perPartner) {
			edges = append(edges, Edge{From: from, To: sp.PartnerID, Score: sp.Score, Rank: rank})
		}
	}
	return edges
}

// Store mirrors partner similarity into Neo4j so other services can walk
// it. Each publish stamps edges with the run id and then drops edges of
// older runs.
type Store struct {
	driver    neo4j.DriverWithContext
	database  string
	batchSize int
	logger    *logrus.Logger
}

func NewStore(driver neo4j.DriverWithContext, database string, logger *logrus.Logger) *Store {
	return &Store{driver: driver, database: database, batchSize: defaultBatchSize, logger: logger}
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) PublishSimilar(ctx context.Context, runID string, edges []Edge) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	upsert := `
		UNWIND $edges AS e
		MERGE (a:Partner {id: e.from})
		MERGE (b:Partner {id: e.to})
		MERGE (a)-[r:SIMILAR_TO]->(b)
		SET r.score = e.score, r.rank = e.rank, r.run_id = $run_id, r.updated_at = datetime()`

	written := 0
	for _, batch := range batches(edges, s.batchSize) {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			result, err := tx.Run(ctx, upsert, map[string]interface{}{
				"edges":  edgeParams(batch),
				"run_id": runID,
			})
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to publish similarity batch: %w", err)
		}
		written += len(batch)
	}

	prune := `
		MATCH (:Partner)-[r:SIMILAR_TO]->(:Partner)
		WHERE r.run_id <> $run_id
		DELETE r`

	removed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, prune, map[string]interface{}{"run_id": runID})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().RelationshipsDeleted(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to prune stale similarity edges: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"edges":   written,
		"removed": removed,
	}).Info("Partner similarity graph published")

	return nil
}

// Similar reads the neighbours of a partner in published rank order, the
// same order the content model answers with.
func (s *Store) Similar(ctx context.Context, partnerID uuid.UUID, limit int) ([]models.ScoredPartner, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	cypher := `
		MATCH (:Partner {id: $partner_id})-[r:SIMILAR_TO]->(other:Partner)
		RETURN other.id AS partner_id, r.score AS score
		ORDER BY r.rank ASC, r.score DESC, other.id ASC
		LIMIT $limit`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]interface{}{
			"partner_id": partnerID.String(),
			"limit":      limit,
		})
		if err != nil {
			return nil, err
		}

		var similar []models.ScoredPartner
		for result.Next(ctx) {
			record := result.Record()
			rawID, _ := record.Get("partner_id")
			rawScore, _ := record.Get("score")

			idStr, ok := rawID.(string)
			if !ok {
				continue
			}
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			score, _ := rawScore.(float64)
			similar = append(similar, models.ScoredPartner{PartnerID: id, Score: score})
		}
		return similar, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read similar partners: %w", err)
	}

	similar, _ := result.([]models.ScoredPartner)
	return similar, nil
}

func edgeParams(edges []Edge) []map[string]interface{} {
	params := make([]map[string]interface{}, len(edges))
	for i, e := range edges {
		params[i] = map[string]interface{}{
			"from":  e.From.String(),
			"to":    e.To.String(),
			"score": e.Score,
			"rank":  e.Rank,
		}
	}
	return params
}

func batches(edges []Edge, size int) [][]Edge {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]Edge
	for start := 0; start < len(edges); start += size {
		end := start + size
		if end > len(edges) {
			end = len(edges)
		}
		out = append(out, edges[start:end])
	}
	return out
}
