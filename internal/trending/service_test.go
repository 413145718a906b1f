package trending

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/database"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type activity struct {
	upvotes   int
	downvotes int
	comments  int
}

func seedActivity(testContext *testing.T, db *gorm.DB, bookID string, createBook bool, counts activity) {
	testContext.Helper()
	if createBook {
		require.NoError(testContext, db.Create(&catalog.Book{ID: bookID, Title: "Title " + bookID, Author: "Author", CreatedBy: "owner"}).Error)
	}
	for i := 0; i < counts.upvotes; i++ {
		require.NoError(testContext, db.Create(&catalog.Vote{VotableType: "book", VotableID: bookID, UserID: fmt.Sprintf("up-%d", i), Value: 1}).Error)
	}
	for i := 0; i < counts.downvotes; i++ {
		require.NoError(testContext, db.Create(&catalog.Vote{VotableType: "book", VotableID: bookID, UserID: fmt.Sprintf("down-%d", i), Value: -1}).Error)
	}
	if counts.comments == 0 {
		return
	}
	threadID := "thread-" + bookID
	require.NoError(testContext, db.Create(&catalog.Thread{ID: threadID, BookID: bookID, CreatedBy: "owner", Title: "t", Content: "c"}).Error)
	for i := 0; i < counts.comments; i++ {
		require.NoError(testContext, db.Create(&catalog.Comment{ID: fmt.Sprintf("%s-c%d", threadID, i), ThreadID: threadID, CreatedBy: "owner", Content: "c"}).Error)
	}
}

func newTrendingService(testContext *testing.T, limit int) (*Service, *gorm.DB) {
	testContext.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(testContext.TempDir(), "trending.db"), zap.NewNop())
	require.NoError(testContext, err)
	service, err := NewService(ServiceConfig{Database: db, Limit: limit})
	require.NoError(testContext, err)
	return service, db
}

func TestTopSelectsFiveHighestScores(testContext *testing.T) {
	service, db := newTrendingService(testContext, 0)

	seedActivity(testContext, db, "book-b", true, activity{upvotes: 2, comments: 3})
	seedActivity(testContext, db, "book-a", true, activity{upvotes: 5, downvotes: 4})
	seedActivity(testContext, db, "book-c", true, activity{comments: 3})
	seedActivity(testContext, db, "book-d", true, activity{upvotes: 1, comments: 1})
	seedActivity(testContext, db, "book-e", true, activity{upvotes: 1, downvotes: 2})
	seedActivity(testContext, db, "book-f", true, activity{downvotes: 3})

	ranking, err := service.Top(context.Background())
	require.NoError(testContext, err)

	ids := make([]string, 0, len(ranking.Books))
	scores := make([]int64, 0, len(ranking.Books))
	for _, book := range ranking.Books {
		ids = append(ids, book.ID)
		scores = append(scores, book.Score)
	}
	assert.Equal(testContext, []string{"book-a", "book-b", "book-c", "book-d", "book-e"}, ids)
	assert.Equal(testContext, []int64{5, 5, 3, 2, 1}, scores)
	assert.Equal(testContext, "Title book-a", ranking.Books[0].Title)

	assert.True(testContext, ranking.IsTrending("book-e"))
	assert.False(testContext, ranking.IsTrending("book-f"))
}

func TestTopSkipsDanglingAndZeroScoreBooks(testContext *testing.T) {
	service, db := newTrendingService(testContext, 3)

	seedActivity(testContext, db, "deleted-book", false, activity{upvotes: 9, comments: 2})
	seedActivity(testContext, db, "book-1", true, activity{upvotes: 1})
	seedActivity(testContext, db, "book-2", true, activity{})

	ranking, err := service.Top(context.Background())
	require.NoError(testContext, err)
	require.Len(testContext, ranking.Books, 1)
	assert.Equal(testContext, "book-1", ranking.Books[0].ID)
	assert.False(testContext, ranking.IsTrending("deleted-book"))
	assert.False(testContext, ranking.IsTrending("book-2"))
}

func TestTopHonoursLimit(testContext *testing.T) {
	service, db := newTrendingService(testContext, 2)
	for i, bookID := range []string{"x", "y", "z"} {
		seedActivity(testContext, db, bookID, true, activity{upvotes: i + 1})
	}

	ranking, err := service.Top(context.Background())
	require.NoError(testContext, err)
	require.Len(testContext, ranking.Books, 2)
	assert.Equal(testContext, "z", ranking.Books[0].ID)
	assert.Equal(testContext, "y", ranking.Books[1].ID)
}

func TestEmptyRanking(testContext *testing.T) {
	service, _ := newTrendingService(testContext, 0)
	ranking, err := service.Top(context.Background())
	require.NoError(testContext, err)
	assert.Empty(testContext, ranking.Books)
	assert.False(testContext, ranking.IsTrending("anything"))
}

func TestNewServiceRejectsNegativeLimit(testContext *testing.T) {
	db, err := database.Open(database.DriverSQLite, filepath.Join(testContext.TempDir(), "t.db"), nil)
	require.NoError(testContext, err)
	_, err = NewService(ServiceConfig{Database: db, Limit: -1})
	require.ErrorIs(testContext, err, serviceerror.ErrInvalidInput)
}
