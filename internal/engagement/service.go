package engagement

import (
	"context"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew      = "engagement.service.new"
	opBadge           = "engagement.badge"
	reasonMissingDB   = "missing_database"
	reasonCountFailed = "count_failed"

	windowCreatedBy = "created_by = ? AND created_at_s >= ? AND created_at_s < ?"
	windowLikes     = "user_id = ? AND value = 1 AND created_at_s >= ? AND created_at_s < ?"
)

// Badge is the monthly engagement summary of a user.
type Badge struct {
	UserID         string    `json:"userId"`
	BooksAdded     int64     `json:"booksAdded"`
	ThreadsStarted int64     `json:"threadsStarted"`
	LikesGiven     int64     `json:"likesGiven"`
	Engagements    int64     `json:"engagements"`
	Tier           Tier      `json:"tier"`
	WindowStart    time.Time `json:"windowStart"`
	WindowEnd      time.Time `json:"windowEnd"`
}

// ServiceConfig describes the dependencies of the engagement counter.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service computes badges.
type Service struct {
	db      *gorm.DB
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDB, serviceerror.ErrMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, metrics: cfg.Metrics, logger: logger}, nil
}

// Badge counts the books, threads and upvotes user created during the current calendar
// month up to now and maps the total to a tier. Rows carry whole-second timestamps, so a
// row stamped with the current second has already happened and is counted.
func (s *Service) Badge(ctx context.Context, user catalog.UserID) (Badge, error) {
	started := time.Now()
	defer s.metrics.ObserveAggregation(opBadge, started)

	now := s.clock()
	windowStart := MonthStart(now)
	from, to := windowStart.Unix(), now.Unix()+1

	counts := []struct {
		model any
		where string
		dest  *int64
	}{
		{model: &catalog.Book{}, where: windowCreatedBy},
		{model: &catalog.Thread{}, where: windowCreatedBy},
		{model: &catalog.Vote{}, where: windowLikes},
	}
	badge := Badge{UserID: user.String(), WindowStart: windowStart, WindowEnd: now}
	counts[0].dest = &badge.BooksAdded
	counts[1].dest = &badge.ThreadsStarted
	counts[2].dest = &badge.LikesGiven

	for _, count := range counts {
		err := s.db.WithContext(ctx).Model(count.model).Where(count.where, user.String(), from, to).Count(count.dest).Error
		if err != nil {
			s.logger.Error("engagement service error",
				zap.String("operation", opBadge),
				zap.String("reason", reasonCountFailed),
				zap.String("user_id", user.String()),
				zap.Error(err),
			)
			return Badge{}, serviceerror.New(opBadge, reasonCountFailed, err)
		}
	}

	badge.Engagements = badge.BooksAdded + badge.ThreadsStarted + badge.LikesGiven
	badge.Tier = TierFor(int(badge.Engagements))
	return badge, nil
}
