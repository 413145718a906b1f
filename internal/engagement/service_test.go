package engagement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBadgeCountsCurrentMonthOnly(testContext *testing.T) {
	db, err := database.Open(database.DriverSQLite, filepath.Join(testContext.TempDir(), "engagement.db"), zap.NewNop())
	require.NoError(testContext, err)

	now := time.Date(2026, time.May, 20, 12, 0, 0, 0, time.UTC)
	monthStart := MonthStart(now).Unix()
	lastMonth := monthStart - 1
	future := now.Unix() + 60

	rows := []any{
		&catalog.Book{ID: "b1", Title: "t", Author: "a", CreatedBy: "alice", CreatedAtSeconds: monthStart},
		&catalog.Book{ID: "b2", Title: "t", Author: "a", CreatedBy: "alice", CreatedAtSeconds: now.Unix() - 10},
		&catalog.Book{ID: "b3", Title: "t", Author: "a", CreatedBy: "alice", CreatedAtSeconds: lastMonth},
		&catalog.Book{ID: "b4", Title: "t", Author: "a", CreatedBy: "bob", CreatedAtSeconds: now.Unix() - 10},
		&catalog.Thread{ID: "t1", BookID: "b1", CreatedBy: "alice", Title: "t", Content: "c", CreatedAtSeconds: now.Unix() - 5},
		&catalog.Thread{ID: "t2", BookID: "b1", CreatedBy: "alice", Title: "t", Content: "c", CreatedAtSeconds: future},
		&catalog.Vote{VotableType: "book", VotableID: "b4", UserID: "alice", Value: 1, CreatedAtSeconds: now.Unix() - 1},
		&catalog.Vote{VotableType: "thread", VotableID: "t1", UserID: "alice", Value: 1, CreatedAtSeconds: now.Unix() - 1},
		&catalog.Vote{VotableType: "comment", VotableID: "c1", UserID: "alice", Value: -1, CreatedAtSeconds: now.Unix() - 1},
		&catalog.Vote{VotableType: "book", VotableID: "b2", UserID: "alice", Value: 1, CreatedAtSeconds: lastMonth},
	}
	for _, row := range rows {
		require.NoError(testContext, db.Create(row).Error)
	}

	service, err := NewService(ServiceConfig{Database: db, Clock: func() time.Time { return now }})
	require.NoError(testContext, err)

	badge, err := service.Badge(context.Background(), "alice")
	require.NoError(testContext, err)
	assert.Equal(testContext, int64(2), badge.BooksAdded)
	assert.Equal(testContext, int64(1), badge.ThreadsStarted)
	assert.Equal(testContext, int64(2), badge.LikesGiven)
	assert.Equal(testContext, int64(5), badge.Engagements)
	assert.Equal(testContext, TierSilver, badge.Tier)
	assert.Equal(testContext, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC), badge.WindowStart)

	idle, err := service.Badge(context.Background(), "nobody")
	require.NoError(testContext, err)
	assert.Equal(testContext, TierNone, idle.Tier)
	assert.Zero(testContext, idle.Engagements)
}

func TestBadgeCountsRowsFromTheCurrentSecond(testContext *testing.T) {
	db, err := database.Open(database.DriverSQLite, filepath.Join(testContext.TempDir(), "engagement.db"), zap.NewNop())
	require.NoError(testContext, err)

	now := time.Date(2026, time.May, 20, 12, 0, 0, 500_000_000, time.UTC)
	rows := []any{
		&catalog.Book{ID: "b1", Title: "t", Author: "a", CreatedBy: "alice", CreatedAtSeconds: now.Unix()},
		&catalog.Thread{ID: "t1", BookID: "b1", CreatedBy: "alice", Title: "t", Content: "c", CreatedAtSeconds: now.Unix()},
		&catalog.Vote{VotableType: "book", VotableID: "b9", UserID: "alice", Value: 1, CreatedAtSeconds: now.Unix()},
		&catalog.Book{ID: "b2", Title: "t", Author: "a", CreatedBy: "alice", CreatedAtSeconds: now.Unix() + 1},
	}
	for _, row := range rows {
		require.NoError(testContext, db.Create(row).Error)
	}

	service, err := NewService(ServiceConfig{Database: db, Clock: func() time.Time { return now }})
	require.NoError(testContext, err)

	badge, err := service.Badge(context.Background(), "alice")
	require.NoError(testContext, err)
	assert.Equal(testContext, int64(1), badge.BooksAdded)
	assert.Equal(testContext, int64(1), badge.ThreadsStarted)
	assert.Equal(testContext, int64(1), badge.LikesGiven)
	assert.Equal(testContext, TierNone, badge.Tier)
}
