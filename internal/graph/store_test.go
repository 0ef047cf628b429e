package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/pkg/models"
)

func pid(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

func TestEdgesFromModel(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	partners := []models.Partner{
		{ID: pid(1), Category: "dining", City: "sofia", Rating: 4},
		{ID: pid(2), Category: "dining", City: "sofia", Rating: 4.5},
		{ID: pid(3), Category: "spa", City: "varna", Rating: 3.5},
	}
	model, err := content.NewFitter(content.Config{Clusters: 2, MaxIterations: 20, Seed: 42}, logger).
		Fit(context.Background(), partners)
	require.NoError(t, err)

	edges := EdgesFromModel(model, 1)
	require.Len(t, edges, 3)
	for _, e := range edges {
		assert.NotEqual(t, e.From, e.To)
	}
	assert.Equal(t, Edge{From: pid(1), To: pid(2), Score: edges[0].Score}, edges[0])
}

func TestEdgesFromModel_RankMatchesContentOrder(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	partners := []models.Partner{
		{ID: pid(1), Category: "dining", City: "sofia", Rating: 4, PriceRange: 2},
		{ID: pid(2), Category: "dining", City: "varna", Rating: 3, PriceRange: 1},
		{ID: pid(3), Category: "spa", City: "sofia", Rating: 4, PriceRange: 2},
		{ID: pid(4), Category: "spa", City: "sofia", Rating: 4.5, PriceRange: 3},
		{ID: pid(5), Category: "dining", City: "sofia", Rating: 4.2, PriceRange: 2},
	}
	model, err := content.NewFitter(content.Config{Clusters: 2, MaxIterations: 20, Seed: 42}, logger).
		Fit(context.Background(), partners)
	require.NoError(t, err)

	edges := EdgesFromModel(model, 4)
	byFrom := map[uuid.UUID][]Edge{}
	for _, e := range edges {
		byFrom[e.From] = append(byFrom[e.From], e)
	}
	for _, p := range partners {
		want := model.SimilarTo(p.ID, 4)
		got := byFrom[p.ID]
		require.Len(t, got, len(want))
		for i, e := range got {
			assert.Equal(t, i, e.Rank)
			assert.Equal(t, want[i].PartnerID, e.To, "graph order must follow the content model")
		}
	}
}

func TestBatches(t *testing.T) {
	edges := make([]Edge, 7)
	for i := range edges {
		edges[i] = Edge{From: pid(i + 1), To: pid(i + 2), Score: float64(i)}
	}

	got := batches(edges, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[2], 1)

	assert.Empty(t, batches(nil, 3))
	assert.Len(t, batches(edges, 0), 1)
}

func TestEdgeParams(t *testing.T) {
	params := edgeParams([]Edge{{From: pid(1), To: pid(2), Score: 0.75, Rank: 2}})
	require.Len(t, params, 1)
	assert.Equal(t, pid(1).String(), params[0]["from"])
	assert.Equal(t, pid(2).String(), params[0]["to"])
	assert.Equal(t, 0.75, params[0]["score"])
	assert.Equal(t, 2, params[0]["rank"])
}
