package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/pkg/models"
)

var partnerColumns = []string{
	"id", "category", "subcategory", "city", "price_range", "rating",
	"tags", "premium", "review_count", "review_sum",
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func testConfig() Config {
	return Config{
		Window:            180 * day,
		MinInteractions:   5,
		RecencyWeight:     0.8,
		RatingPriorWeight: 10,
	}
}

func TestExtractor_Extract(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig()

	partnerA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	partnerB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	partnerC := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	unknownPartner := uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	active := uuid.MustParse("10000000-0000-0000-0000-000000000001")
	casual := uuid.MustParse("10000000-0000-0000-0000-000000000002")

	mockDB.ExpectQuery("FROM partners").
		WillReturnRows(pgxmock.NewRows(partnerColumns).
			AddRow(partnerA, "Dining", "Italian", "Sofia", 2, 4.2, []string{"Wine", "wine", " Terrace"}, false, 2, 9.0).
			AddRow(partnerB, "dining", "", "Sofia", 3, 4.0, []string{}, true, 0, 0.0).
			AddRow(partnerC, "", "", "", 0, 0.0, []string(nil), false, 1, 1.0))

	mockDB.ExpectQuery("FROM users").
		WillReturnRows(pgxmock.NewRows([]string{"id", "subscription_tier", "age_group", "city"}).
			AddRow(active, "Premium", "25-34", "Sofia").
			AddRow(casual, "", "", ""))

	mockDB.ExpectQuery("FROM interactions").
		WithArgs(now.Add(-cfg.Window)).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "partner_id", "event_type", "timestamp"}).
			AddRow(active, partnerA, "view", now.Add(-24*time.Hour)).
			AddRow(active, partnerA, "view", now.Add(-25*time.Hour)).
			AddRow(active, partnerA, "view", now.Add(-26*time.Hour)).
			AddRow(active, partnerB, "redemption", now.Add(-3*day)).
			AddRow(active, partnerC, "favorite", now.Add(-40*day)).
			AddRow(active, unknownPartner, "view", now.Add(-2*day)).
			AddRow(casual, partnerB, "view", now.Add(-2*day)).
			AddRow(casual, partnerB, "view", now.Add(-1*day)))

	extractor := NewExtractor(mockDB, cfg, testLogger()).WithClock(func() time.Time { return now })

	snapshot, err := extractor.Extract(context.Background())
	require.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())

	t.Run("users below the threshold have no rows", func(t *testing.T) {
		require.Len(t, snapshot.Rows, 5)
		for _, row := range snapshot.Rows {
			assert.Equal(t, active, row.UserID)
		}
		assert.Equal(t, 1, snapshot.ExcludedUsers)
		assert.Equal(t, 1, snapshot.DroppedEvents)
	})

	t.Run("histories keep every user", func(t *testing.T) {
		h, ok := snapshot.History(casual)
		require.True(t, ok)
		assert.Equal(t, 2, h.Events)
		assert.Contains(t, h.Weights, partnerB)

		h, ok = snapshot.History(active)
		require.True(t, ok)
		assert.Equal(t, now.Add(-3*day), h.LastRedemption[partnerB])
		assert.InDelta(t, 4.0, h.Weights[partnerB], 1e-9)
	})

	t.Run("rows carry engineered features", func(t *testing.T) {
		byPartner := map[uuid.UUID]Row{}
		for _, row := range snapshot.Rows {
			byPartner[row.PartnerID] = row
		}

		view := byPartner[partnerA]
		assert.Equal(t, 2.0, view.ImplicitRating)
		assert.Equal(t, 1.0, view.RecencyWeight)
		assert.InDelta(t, 1.6, view.WeightedRating, 1e-9)
		assert.Equal(t, snapshot.Categories.Encode("dining"), view.CategoryCode)
		assert.Equal(t, snapshot.Tiers.Encode("premium"), view.TierCode)
		assert.NotEqual(t, UnknownCode, view.TierCode)

		fav := byPartner[partnerC]
		assert.Equal(t, 4.0, fav.ImplicitRating)
		assert.Equal(t, 0.7, fav.RecencyWeight)
		assert.Equal(t, UnknownCode, fav.CategoryCode)

		weeks := cfg.Window.Hours() / (7 * 24)
		assert.InDelta(t, 5/weeks, view.UserVelocity, 1e-9)
	})

	t.Run("rows are ordered deterministically", func(t *testing.T) {
		for i := 1; i < len(snapshot.Rows); i++ {
			prev, cur := snapshot.Rows[i-1], snapshot.Rows[i]
			if prev.PartnerID == cur.PartnerID {
				assert.False(t, cur.Timestamp.Before(prev.Timestamp))
				continue
			}
			assert.True(t, models.LessID(prev.PartnerID, cur.PartnerID))
		}
	})

	t.Run("partner ratings are smoothed", func(t *testing.T) {
		a, ok := snapshot.Partner(partnerA)
		require.True(t, ok)
		globalMean := 10.0 / 3.0
		assert.InDelta(t, (10*globalMean+9)/12, a.Rating, 1e-9)
		assert.Equal(t, 4.2, a.CatalogRating)
		assert.Equal(t, []string{"terrace", "wine"}, a.Tags)

		b, _ := snapshot.Partner(partnerB)
		assert.Equal(t, 4.0, b.Rating)

		c, _ := snapshot.Partner(partnerC)
		assert.Equal(t, UnknownLabel, c.Category)
	})

	t.Run("preferred categories derived from history", func(t *testing.T) {
		profile, ok := snapshot.Profile(active)
		require.True(t, ok)
		assert.Equal(t, []string{"dining"}, profile.PreferredCategories)

		category, ok := profile.PreferredCategory()
		assert.True(t, ok)
		assert.Equal(t, "dining", category)
	})

	t.Run("category listing is best rated first", func(t *testing.T) {
		assert.Equal(t, []uuid.UUID{partnerB, partnerA}, snapshot.PartnersInCategory("Dining"))
	})
}

func TestExtractor_EmptyCatalog(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM partners").WillReturnRows(pgxmock.NewRows(partnerColumns))

	_, err = NewExtractor(mockDB, testConfig(), testLogger()).Extract(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsDataIntegrity(err))
}

func TestExtractor_UnknownEventType(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	partner := uuid.New()

	mockDB.ExpectQuery("FROM partners").
		WillReturnRows(pgxmock.NewRows(partnerColumns).
			AddRow(partner, "spa", "", "", 1, 3.0, []string{}, false, 0, 0.0))
	mockDB.ExpectQuery("FROM users").
		WillReturnRows(pgxmock.NewRows([]string{"id", "subscription_tier", "age_group", "city"}))
	mockDB.ExpectQuery("FROM interactions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "partner_id", "event_type", "timestamp"}).
			AddRow(uuid.New(), partner, "share", now))

	_, err = NewExtractor(mockDB, testConfig(), testLogger()).
		WithClock(func() time.Time { return now }).
		Extract(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsDataIntegrity(err))
	assert.Contains(t, err.Error(), "share")
}

func TestExtractor_QueryFailure(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM partners").WillReturnError(errors.New("connection refused"))

	_, err = NewExtractor(mockDB, testConfig(), testLogger()).Extract(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partners query failed")
	assert.False(t, models.IsDataIntegrity(err))
}
