package affinity

import (
	"context"
	"errors"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew      = "affinity.service.new"
	opMatch           = "affinity.match"
	reasonMissingDB   = "missing_database"
	reasonQueryFailed = "query_failed"
)

// Match is the character chosen for a reader with the signals behind it.
type Match struct {
	Character     Character `json:"character"`
	DominantGenre string    `json:"dominantGenre,omitempty"`
	Engagement    int       `json:"engagement"`
}

// ServiceConfig describes the dependencies of the matcher.
type ServiceConfig struct {
	Database *gorm.DB
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service gathers signals from the store and matches a character.
type Service struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDB, serviceerror.ErrMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, metrics: cfg.Metrics, logger: logger}, nil
}

// Match gathers user's signals and chooses a character.
func (s *Service) Match(ctx context.Context, user catalog.UserID) (Match, error) {
	started := time.Now()
	defer s.metrics.ObserveAggregation(opMatch, started)

	signals, err := s.Signals(ctx, user)
	if err != nil {
		return Match{}, err
	}
	dominant, _ := DominantGenre(signals)
	return Match{Character: Choose(signals), DominantGenre: dominant, Engagement: signals.Engagement()}, nil
}

// Signals reads the genre and engagement signals of user. Books are visited in creation
// order so the first-seen tie-break is stable.
func (s *Service) Signals(ctx context.Context, user catalog.UserID) (Signals, error) {
	db := s.db.WithContext(ctx)
	var signals Signals

	var profile catalog.Profile
	err := db.Where("id = ?", user.String()).Take(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return Signals{}, s.fail(err)
	case profile.FavoriteGenre != nil:
		signals.FavoriteGenre = *profile.FavoriteGenre
	}

	var createdBookIDs []string
	err = db.Model(&catalog.Book{}).
		Where("created_by = ?", user.String()).
		Order("created_at_s ASC").Order("id ASC").
		Pluck("id", &createdBookIDs).Error
	if err != nil {
		return Signals{}, s.fail(err)
	}
	var upvotedBookIDs []string
	err = db.Model(&catalog.Vote{}).
		Where("user_id = ? AND votable_type = ? AND value = ?", user.String(), catalog.VotableBook, 1).
		Order("created_at_s ASC").Order("votable_id ASC").
		Pluck("votable_id", &upvotedBookIDs).Error
	if err != nil {
		return Signals{}, s.fail(err)
	}

	genres, err := catalog.GenresOfBooks(ctx, s.db, append(append([]string{}, createdBookIDs...), upvotedBookIDs...))
	if err != nil {
		return Signals{}, s.fail(err)
	}
	signals.CreatedGenres = genreNames(createdBookIDs, genres)
	signals.UpvotedGenres = genreNames(upvotedBookIDs, genres)

	var threads, votes int64
	if err := db.Model(&catalog.Thread{}).Where("created_by = ?", user.String()).Count(&threads).Error; err != nil {
		return Signals{}, s.fail(err)
	}
	if err := db.Model(&catalog.Vote{}).Where("user_id = ?", user.String()).Count(&votes).Error; err != nil {
		return Signals{}, s.fail(err)
	}
	signals.BooksCreated = len(createdBookIDs)
	signals.ThreadsStarted = int(threads)
	signals.VotesCast = int(votes)
	return signals, nil
}

func genreNames(bookIDs []string, genres map[string][]catalog.Genre) []string {
	var names []string
	for _, bookID := range bookIDs {
		for _, genre := range genres[bookID] {
			names = append(names, genre.Name)
		}
	}
	return names
}

func (s *Service) fail(err error) error {
	s.logger.Error("affinity service error",
		zap.String("operation", opMatch),
		zap.String("reason", reasonQueryFailed),
		zap.Error(err),
	)
	return serviceerror.New(opMatch, reasonQueryFailed, err)
}
