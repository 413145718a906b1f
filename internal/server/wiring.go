package server

import (
	"time"

	"github.com/bookthreads/bookthreads-api/internal/affinity"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/compatibility"
	"github.com/bookthreads/bookthreads-api/internal/discussions"
	"github.com/bookthreads/bookthreads-api/internal/engagement"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/events"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/relations"
	"github.com/bookthreads/bookthreads-api/internal/trending"
	"github.com/bookthreads/bookthreads-api/internal/users"
	"github.com/bookthreads/bookthreads-api/internal/votes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceSetConfig carries what every domain service shares.
type ServiceSetConfig struct {
	Database      *gorm.DB
	State         *entitystate.State
	Clock         func() time.Time
	IDProvider    catalog.IDProvider
	TrendingLimit int
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// NewServiceSet constructs the domain services and returns them as Dependencies.
// Transport settings (sessions, rate limits, origins) are left for the caller.
func NewServiceSet(cfg ServiceSetConfig) (Dependencies, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = catalog.NewUUIDProvider()
	}
	deps := Dependencies{State: cfg.State, Metrics: cfg.Metrics, Logger: logger}

	var err error
	if deps.Users, err = users.NewService(users.ServiceConfig{
		Database: cfg.Database, Clock: cfg.Clock, State: cfg.State, Metrics: cfg.Metrics, Logger: logger.Named("users"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Database: cfg.Database, Clock: cfg.Clock, IDProvider: idProvider, State: cfg.State, Logger: logger.Named("catalog"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Votes, err = votes.NewService(votes.ServiceConfig{
		Database: cfg.Database, State: cfg.State, Clock: cfg.Clock, Metrics: cfg.Metrics, Logger: logger.Named("votes"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Relations, err = relations.NewService(relations.ServiceConfig{
		Database: cfg.Database, State: cfg.State, Clock: cfg.Clock, Metrics: cfg.Metrics, Logger: logger.Named("relations"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Engagement, err = engagement.NewService(engagement.ServiceConfig{
		Database: cfg.Database, Clock: cfg.Clock, Metrics: cfg.Metrics, Logger: logger.Named("engagement"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Trending, err = trending.NewService(trending.ServiceConfig{
		Database: cfg.Database, Limit: cfg.TrendingLimit, Metrics: cfg.Metrics, Logger: logger.Named("trending"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Affinity, err = affinity.NewService(affinity.ServiceConfig{
		Database: cfg.Database, Metrics: cfg.Metrics, Logger: logger.Named("affinity"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Compatibility, err = compatibility.NewService(compatibility.ServiceConfig{
		Database: cfg.Database, Metrics: cfg.Metrics, Logger: logger.Named("compatibility"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Discussions, err = discussions.NewService(discussions.ServiceConfig{
		Database: cfg.Database, Clock: cfg.Clock, IDProvider: idProvider, State: cfg.State,
		Metrics: cfg.Metrics, Logger: logger.Named("discussions"),
	}); err != nil {
		return Dependencies{}, err
	}
	if deps.Events, err = events.NewService(events.ServiceConfig{
		Database: cfg.Database, Clock: cfg.Clock, IDProvider: idProvider, Metrics: cfg.Metrics, Logger: logger.Named("events"),
	}); err != nil {
		return Dependencies{}, err
	}
	return deps, nil
}
