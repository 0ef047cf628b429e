package trending

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "category", "rating", "redemptions", "views"}

func pid(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestRanker_Compute(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{Window: 7 * 24 * time.Hour, Limit: 3}

	mockDB.ExpectQuery("FROM interactions").
		WithArgs(now.Add(-cfg.Window)).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(pid(1), "Dining", 4.0, 3, 1). // 7
			AddRow(pid(2), "dining", 4.5, 1, 5). // 7, better rated
			AddRow(pid(3), "Spa", 4.9, 0, 4).    // 4
			AddRow(pid(4), "", 3.0, 5, 0).       // 10, no category
			AddRow(pid(5), "spa", 4.0, 0, 0).    // favorites only
			AddRow(pid(6), "hotels", 4.1, 0, 1)) // 1, past the limit

	lists, err := NewRanker(mockDB, cfg, testLogger()).
		WithClock(func() time.Time { return now }).
		Compute(context.Background())
	require.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())

	t.Run("overall uses redemptions twice views", func(t *testing.T) {
		overall := lists.For(Overall)
		require.Len(t, overall, 3)
		assert.Equal(t, pid(4), overall[0].PartnerID)
		assert.Equal(t, 10.0, overall[0].Score)
		assert.Equal(t, pid(2), overall[1].PartnerID)
		assert.Equal(t, pid(1), overall[2].PartnerID)
	})

	t.Run("category lists are normalised", func(t *testing.T) {
		dining := lists.For("DINING")
		require.Len(t, dining, 2)
		assert.Equal(t, pid(2), dining[0].PartnerID)

		spa := lists.For("spa")
		require.Len(t, spa, 1)
		assert.Equal(t, pid(3), spa[0].PartnerID)
	})

	t.Run("empty hint means overall", func(t *testing.T) {
		assert.Equal(t, lists.For(Overall), lists.For(""))
		assert.Nil(t, lists.For("museums"))
	})
}

func TestRanker_Rank(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM interactions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(pid(1), "spa", 4.0, 1, 0).
			AddRow(pid(2), "dining", 4.0, 2, 0))

	list, err := NewRanker(mockDB, Config{Window: time.Hour, Limit: 10}, testLogger()).
		Rank(context.Background(), "Spa")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pid(1), list[0].PartnerID)
	assert.Equal(t, 2.0, list[0].Score)
}

func TestRanker_QueryError(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM interactions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err = NewRanker(mockDB, Config{Window: time.Hour}, testLogger()).Compute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trending query failed")
}
