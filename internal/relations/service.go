// Package relations reads and toggles the favorite and follow memberships.
package relations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrFollowSelf rejects a follow edge from a user to themselves.
var ErrFollowSelf = fmt.Errorf("%w: you cannot follow yourself", serviceerror.ErrSelfAction)

// Entity state published after a toggle: the favorite count of a book and the
// follower count of a user.
const (
	KindFavorite    = "favorite"
	KindFollow      = "follow"
	EntityFavorites = "favorites"
	EntityFollowers = "followers"
)

const (
	opServiceNew      = "relations.service.new"
	opIsFavorite      = "relations.is_favorite"
	opToggleFavorite  = "relations.toggle_favorite"
	opIsFollowing     = "relations.is_following"
	opToggleFollow    = "relations.toggle_follow"
	opListFollowers   = "relations.list_followers"
	opListFollowing   = "relations.list_following"
	reasonMissingDB   = "missing_database"
	reasonAnonymous   = "anonymous"
	reasonSelf        = "self"
	reasonQueryFailed = "query_failed"
	reasonTargetGone  = "target_missing"
	reasonWriteFailed = "write_failed"

	whereFavorite = "user_id = ? AND book_id = ?"
	whereFollow   = "follower_id = ? AND following_id = ?"
)

// ServiceConfig describes the dependencies of the relationship reader.
type ServiceConfig struct {
	Database *gorm.DB
	State    *entitystate.State
	Clock    func() time.Time
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service reads and toggles favorites and follows.
type Service struct {
	db      *gorm.DB
	state   *entitystate.State
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
	return &Service{db: cfg.Database, state: cfg.State, clock: clock, metrics: cfg.Metrics, logger: logger}, nil
}

// IsFavorite reports whether user marked book as a favorite. Anonymous users never have.
func (s *Service) IsFavorite(ctx context.Context, user catalog.UserID, book catalog.EntityID) (bool, error) {
	if user.Anonymous() {
		return false, nil
	}
	return s.exists(ctx, s.db, opIsFavorite, &catalog.Favorite{}, whereFavorite, user.String(), book.String())
}

// ToggleFavorite flips the membership and returns the new state.
func (s *Service) ToggleFavorite(ctx context.Context, user catalog.UserID, book catalog.EntityID) (bool, error) {
	if user.Anonymous() {
		return false, serviceerror.New(opToggleFavorite, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	var favorite bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		present, err := s.exists(ctx, tx, opToggleFavorite, &catalog.Favorite{}, whereFavorite, user.String(), book.String())
		if err != nil {
			return err
		}
		if present {
			favorite = false
			return s.write(opToggleFavorite, tx.Where(whereFavorite, user.String(), book.String()).Delete(&catalog.Favorite{}).Error)
		}
		if err := s.requireRow(tx, opToggleFavorite, "books", book.String()); err != nil {
			return err
		}
		favorite = true
		return s.write(opToggleFavorite, tx.Create(&catalog.Favorite{
			UserID:           user.String(),
			BookID:           book.String(),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}).Error)
	})
	s.metrics.ObserveWrite(opToggleFavorite, err)
	if err != nil {
		return false, err
	}
	s.publishCount(ctx, KindFavorite, entitystate.Key{Type: EntityFavorites, ID: book.String()}, &catalog.Favorite{}, "book_id = ?")
	return favorite, nil
}

// IsFollowing reports whether follower follows following.
func (s *Service) IsFollowing(ctx context.Context, follower, following catalog.UserID) (bool, error) {
	if follower.Anonymous() || following.Anonymous() {
		return false, nil
	}
	return s.exists(ctx, s.db, opIsFollowing, &catalog.Follow{}, whereFollow, follower.String(), following.String())
}

// ToggleFollow flips the follow edge and returns the new state. Following yourself is rejected.
func (s *Service) ToggleFollow(ctx context.Context, follower, following catalog.UserID) (bool, error) {
	if follower.Anonymous() {
		return false, serviceerror.New(opToggleFollow, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	if follower == following {
		return false, serviceerror.New(opToggleFollow, reasonSelf, ErrFollowSelf)
	}
	var followingNow bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		present, err := s.exists(ctx, tx, opToggleFollow, &catalog.Follow{}, whereFollow, follower.String(), following.String())
		if err != nil {
			return err
		}
		if present {
			followingNow = false
			return s.write(opToggleFollow, tx.Where(whereFollow, follower.String(), following.String()).Delete(&catalog.Follow{}).Error)
		}
		if err := s.requireRow(tx, opToggleFollow, "profiles", following.String()); err != nil {
			return err
		}
		followingNow = true
		return s.write(opToggleFollow, tx.Create(&catalog.Follow{
			FollowerID:       follower.String(),
			FollowingID:      following.String(),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}).Error)
	})
	s.metrics.ObserveWrite(opToggleFollow, err)
	if err != nil {
		return false, err
	}
	s.publishCount(ctx, KindFollow, entitystate.Key{Type: EntityFollowers, ID: following.String()}, &catalog.Follow{}, "following_id = ?")
	return followingNow, nil
}

// ListFollowers returns the ids of users following user, oldest edge first.
func (s *Service) ListFollowers(ctx context.Context, user catalog.UserID) ([]string, error) {
	return s.listEdges(ctx, opListFollowers, "follower_id", "following_id = ?", user)
}

// ListFollowing returns the ids of users that user follows, oldest edge first.
func (s *Service) ListFollowing(ctx context.Context, user catalog.UserID) ([]string, error) {
	return s.listEdges(ctx, opListFollowing, "following_id", "follower_id = ?", user)
}

func (s *Service) listEdges(ctx context.Context, operation, column, where string, user catalog.UserID) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).
		Model(&catalog.Follow{}).
		Where(where, user.String()).
		Order("created_at_s ASC").
		Order(column + " ASC").
		Pluck(column, &ids).Error
	if err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return nil, serviceerror.New(operation, reasonQueryFailed, err)
	}
	return ids, nil
}

func (s *Service) exists(ctx context.Context, db *gorm.DB, operation string, model any, where string, args ...any) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(model).Where(where, args...).Count(&count).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return false, serviceerror.New(operation, reasonQueryFailed, err)
	}
	return count > 0, nil
}

func (s *Service) requireRow(tx *gorm.DB, operation, table, id string) error {
	var count int64
	if err := tx.Table(table).Where("id = ?", id).Count(&count).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return serviceerror.New(operation, reasonQueryFailed, err)
	}
	if count == 0 {
		return serviceerror.New(operation, reasonTargetGone, serviceerror.ErrNotFound)
	}
	return nil
}

func (s *Service) write(operation string, err error) error {
	if err == nil {
		return nil
	}
	s.logError(operation, reasonWriteFailed, err)
	return serviceerror.New(operation, reasonWriteFailed, err)
}

func (s *Service) publishCount(ctx context.Context, kind string, key entitystate.Key, model any, where string) {
	if s.state == nil {
		return
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where(where, key.ID).Count(&count).Error; err != nil {
		s.state.Invalidate(key)
		return
	}
	s.state.Commit(ctx, kind, key, count)
}

func (s *Service) logError(operation, reason string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error("relations service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
