package compatibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ErrMatchSelf rejects comparing a reader with themselves.
var ErrMatchSelf = fmt.Errorf("%w: you cannot match with yourself", serviceerror.ErrSelfAction)

const (
	opServiceNew      = "compatibility.service.new"
	opCompare         = "compatibility.compare"
	reasonMissingDB   = "missing_database"
	reasonAnonymous   = "anonymous"
	reasonSelf        = "self"
	reasonQueryFailed = "query_failed"
)

// ServiceConfig describes the dependencies of the scorer.
type ServiceConfig struct {
	Database *gorm.DB
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service loads signals for two readers and scores them.
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

// Compare scores viewer against other. Both readers' signals load concurrently.
func (s *Service) Compare(ctx context.Context, viewer, other catalog.UserID) (Result, error) {
	if viewer.Anonymous() {
		return Result{}, serviceerror.New(opCompare, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	if viewer == other {
		return Result{}, serviceerror.New(opCompare, reasonSelf, ErrMatchSelf)
	}
	started := time.Now()
	defer s.metrics.ObserveAggregation(opCompare, started)

	var viewerSignals, otherSignals Signals
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		loaded, err := s.load(groupCtx, viewer)
		viewerSignals = loaded
		return err
	})
	group.Go(func() error {
		loaded, err := s.load(groupCtx, other)
		otherSignals = loaded
		return err
	})
	if err := group.Wait(); err != nil {
		s.logger.Error("compatibility service error",
			zap.String("operation", opCompare),
			zap.String("reason", reasonQueryFailed),
			zap.Error(err),
		)
		return Result{}, serviceerror.New(opCompare, reasonQueryFailed, err)
	}
	return Score(viewerSignals, otherSignals), nil
}

func (s *Service) load(ctx context.Context, user catalog.UserID) (Signals, error) {
	db := s.db.WithContext(ctx)
	var signals Signals

	var profile catalog.Profile
	err := db.Where("id = ?", user.String()).Take(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Signals{}, err
	}
	if err == nil && profile.FavoriteGenre != nil {
		signals.FavoriteGenre = *profile.FavoriteGenre
	}

	err = db.Table("book_genres").
		Joins("JOIN books ON books.id = book_genres.book_id").
		Where("books.created_by = ?", user.String()).
		Pluck("book_genres.genre_id", &signals.UploadedGenres).Error
	if err != nil {
		return Signals{}, err
	}

	err = db.Model(&catalog.Vote{}).
		Where("user_id = ? AND votable_type = ? AND value = ?", user.String(), catalog.VotableBook, 1).
		Pluck("votable_id", &signals.LikedBooks).Error
	if err != nil {
		return Signals{}, err
	}
	return signals, nil
}
