// Package trending ranks books by community activity.
//
// Each call reads the whole upvote and comment corpus and folds it in memory. That is
// linear in the size of both tables; a larger deployment would keep per-book counters
// in the store instead.
package trending

import (
	"context"
	"slices"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultLimit is the size of the trending list.
const DefaultLimit = 5

const (
	opServiceNew      = "trending.service.new"
	opTop             = "trending.top"
	reasonMissingDB   = "missing_database"
	reasonInvalidSize = "invalid_limit"
	reasonQueryFailed = "query_failed"
)

// BookSummary is one ranked book.
type BookSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Upvotes  int64  `json:"upvotes"`
	Comments int64  `json:"comments"`
	Score    int64  `json:"score"`
}

// Ranking is the ordered trending list with constant-time membership checks.
type Ranking struct {
	Books   []BookSummary
	members map[string]struct{}
}

// IsTrending reports whether bookID is in the ranking.
func (r Ranking) IsTrending(bookID string) bool {
	_, ok := r.members[bookID]
	return ok
}

// ServiceConfig describes the dependencies of the trending ranker.
type ServiceConfig struct {
	Database *gorm.DB
	Limit    int
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service computes the trending ranking.
type Service struct {
	db      *gorm.DB
	limit   int
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDB, serviceerror.ErrMissingDatabase)
	}
	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 {
		return nil, serviceerror.New(opServiceNew, reasonInvalidSize, serviceerror.ErrInvalidInput)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, limit: limit, metrics: cfg.Metrics, logger: logger}, nil
}

type threadRow struct {
	ID     string
	BookID string
}

// Top scores every book as upvotes on the book plus comments on its threads and returns
// the highest scoring ones. Downvotes do not subtract and books scoring zero are never
// listed. Ties go to the lower book id. Scored books that no longer exist are skipped.
func (s *Service) Top(ctx context.Context) (Ranking, error) {
	started := time.Now()
	defer s.metrics.ObserveAggregation(opTop, started)
	db := s.db.WithContext(ctx)

	var upvotedBookIDs []string
	err := db.Model(&catalog.Vote{}).
		Where("votable_type = ? AND value = ?", catalog.VotableBook, 1).
		Pluck("votable_id", &upvotedBookIDs).Error
	if err != nil {
		return Ranking{}, s.fail(err)
	}
	var threads []threadRow
	if err := db.Model(&catalog.Thread{}).Select("id", "book_id").Scan(&threads).Error; err != nil {
		return Ranking{}, s.fail(err)
	}
	var commentThreadIDs []string
	if err := db.Model(&catalog.Comment{}).Pluck("thread_id", &commentThreadIDs).Error; err != nil {
		return Ranking{}, s.fail(err)
	}

	summaries := make(map[string]*BookSummary)
	summaryFor := func(bookID string) *BookSummary {
		summary, ok := summaries[bookID]
		if !ok {
			summary = &BookSummary{ID: bookID}
			summaries[bookID] = summary
		}
		return summary
	}
	for _, bookID := range upvotedBookIDs {
		summaryFor(bookID).Upvotes++
	}
	bookOfThread := make(map[string]string, len(threads))
	for _, thread := range threads {
		bookOfThread[thread.ID] = thread.BookID
	}
	for _, threadID := range commentThreadIDs {
		if bookID, ok := bookOfThread[threadID]; ok {
			summaryFor(bookID).Comments++
		}
	}

	scoredIDs := make([]string, 0, len(summaries))
	for bookID, summary := range summaries {
		summary.Score = summary.Upvotes + summary.Comments
		if summary.Score > 0 {
			scoredIDs = append(scoredIDs, bookID)
		}
	}

	var books []catalog.Book
	if len(scoredIDs) > 0 {
		if err := db.Where("id IN ?", scoredIDs).Find(&books).Error; err != nil {
			return Ranking{}, s.fail(err)
		}
	}
	ranked := make([]BookSummary, 0, len(books))
	for _, book := range books {
		summary := summaries[book.ID]
		summary.Title = book.Title
		summary.Author = book.Author
		ranked = append(ranked, *summary)
	}
	slices.SortFunc(ranked, compareSummaries)
	if len(ranked) > s.limit {
		ranked = ranked[:s.limit]
	}
	return newRanking(ranked), nil
}

func compareSummaries(a, b BookSummary) int {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func newRanking(books []BookSummary) Ranking {
	members := make(map[string]struct{}, len(books))
	for _, book := range books {
		members[book.ID] = struct{}{}
	}
	return Ranking{Books: books, members: members}
}

func (s *Service) fail(err error) error {
	s.logger.Error("trending service error",
		zap.String("operation", opTop),
		zap.String("reason", reasonQueryFailed),
		zap.Error(err),
	)
	return serviceerror.New(opTop, reasonQueryFailed, err)
}
