// Package users resolves session identities to BookThreads users and manages their
// profiles and accounts.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/auth"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew     = "users.service.new"
	opResolve        = "users.resolve"
	opProfile        = "users.profile"
	opUpdateProfile  = "users.update_profile"
	opDisplayNames   = "users.display_names"
	opDeleteAccount  = "users.delete_account"
	reasonMissingDB  = "missing_database"
	reasonAnonymous  = "anonymous"
	reasonInvalid    = "invalid_input"
	reasonNotFound   = "not_found"
	reasonQuery      = "query_failed"
	reasonWrite      = "write_failed"
	defaultProvider  = "default"
	maxUsernameRunes = 64
	maxBioRunes      = 2000
	accountDeleted   = "account deleted"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required by the users service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	State    *entitystate.State
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// ProfileView is the public shape of a profile.
type ProfileView struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Bio            string  `json:"bio"`
	FavoriteGenre  *string `json:"favoriteGenre"`
	FollowerCount  int64   `json:"followerCount"`
	FollowingCount int64   `json:"followingCount"`
}

// ProfileUpdate lists the fields to change; nil fields stay untouched and an empty
// FavoriteGenre clears it.
type ProfileUpdate struct {
	Username      *string `json:"username"`
	Bio           *string `json:"bio"`
	FavoriteGenre *string `json:"favoriteGenre"`
}

// DeletionResult confirms an account deletion.
type DeletionResult struct {
	Message string `json:"message"`
}

// Service manages canonical user identifiers, identities and profiles.
type Service struct {
	db      *gorm.DB
	now     func() time.Time
	state   *entitystate.State
	metrics *metrics.Metrics
	logger  *zap.Logger
	cache   sync.Map
}

// NewService constructs the users service.
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
	return &Service{db: cfg.Database, now: clock, state: cfg.State, metrics: cfg.Metrics, logger: logger}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims. The
// first time a provider+subject pair is seen it records the identity and an empty
// profile for the new user.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (catalog.UserID, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cached.(string); ok {
			return catalog.UserID(userID), nil
		}
	}

	now := s.now().UTC()
	var identity Identity
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			identity = Identity{
				Provider:    provider,
				Subject:     subject,
				UserID:      subject,
				Email:       normalize(claims.UserEmail),
				DisplayName: normalize(claims.UserDisplayName),
				LastSeenAt:  now,
			}
			if err := tx.Create(&identity).Error; err != nil {
				return err
			}
			profile := catalog.Profile{ID: identity.UserID, CreatedAtSeconds: now.Unix()}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&profile).Error
		}
		if err != nil {
			return err
		}
		updates := map[string]any{"last_seen_at": now}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		return tx.Model(&Identity{}).Where("provider = ? AND subject = ?", provider, subject).Updates(updates).Error
	})
	if err != nil {
		return "", s.fail(opResolve, reasonWrite, err)
	}

	s.cache.Store(cacheKey, identity.UserID)
	return catalog.UserID(identity.UserID), nil
}

// Profile returns the public profile of user.
func (s *Service) Profile(ctx context.Context, user catalog.UserID) (ProfileView, error) {
	var profile catalog.Profile
	err := s.db.WithContext(ctx).Where("id = ?", user.String()).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProfileView{}, serviceerror.New(opProfile, reasonNotFound, serviceerror.ErrNotFound)
	}
	if err != nil {
		return ProfileView{}, s.fail(opProfile, reasonQuery, err)
	}
	return viewOf(profile), nil
}

// UpdateProfile applies the caller's profile changes. A favorite genre must name a
// known genre.
func (s *Service) UpdateProfile(ctx context.Context, user catalog.UserID, update ProfileUpdate) (ProfileView, error) {
	if user.Anonymous() {
		return ProfileView{}, serviceerror.New(opUpdateProfile, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	changes := map[string]any{}
	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if len([]rune(username)) > maxUsernameRunes {
			return ProfileView{}, invalid(fmt.Sprintf("username exceeds %d characters", maxUsernameRunes))
		}
		changes["username"] = username
	}
	if update.Bio != nil {
		bio := strings.TrimSpace(*update.Bio)
		if len([]rune(bio)) > maxBioRunes {
			return ProfileView{}, invalid(fmt.Sprintf("bio exceeds %d characters", maxBioRunes))
		}
		changes["bio"] = bio
	}

	var profile catalog.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if update.FavoriteGenre != nil {
			genre := strings.TrimSpace(*update.FavoriteGenre)
			if genre == "" {
				changes["favorite_genre"] = nil
			} else {
				var known int64
				if err := tx.Model(&catalog.Genre{}).Where("name = ?", genre).Count(&known).Error; err != nil {
					return s.fail(opUpdateProfile, reasonQuery, err)
				}
				if known == 0 {
					return invalid(fmt.Sprintf("unknown genre %q", genre))
				}
				changes["favorite_genre"] = genre
			}
		}
		if err := tx.Where("id = ?", user.String()).Take(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return serviceerror.New(opUpdateProfile, reasonNotFound, serviceerror.ErrNotFound)
			}
			return s.fail(opUpdateProfile, reasonQuery, err)
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&catalog.Profile{}).Where("id = ?", user.String()).Updates(changes).Error; err != nil {
			return s.fail(opUpdateProfile, reasonWrite, err)
		}
		return tx.Where("id = ?", user.String()).Take(&profile).Error
	})
	s.metrics.ObserveWrite(opUpdateProfile, err)
	if err != nil {
		return ProfileView{}, err
	}
	return viewOf(profile), nil
}

// DisplayNames maps user ids to usernames, omitting users without one.
func (s *Service) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names, err := catalog.DisplayNames(ctx, s.db, userIDs)
	if err != nil {
		return nil, s.fail(opDisplayNames, reasonQuery, err)
	}
	return names, nil
}

// DeleteAccount removes everything the user owns or contributed and then the user's
// identities, in one transaction. Scores of every target that lost a vote are dropped
// from entity state after commit.
func (s *Service) DeleteAccount(ctx context.Context, user catalog.UserID) (DeletionResult, error) {
	if user.Anonymous() {
		return DeletionResult{}, serviceerror.New(opDeleteAccount, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	userID := user.String()
	var removed []entitystate.Key
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed = nil
		var cast []catalog.Vote
		if err := tx.Select("votable_type", "votable_id").Where("user_id = ?", userID).Find(&cast).Error; err != nil {
			return err
		}
		for _, vote := range cast {
			removed = append(removed, catalog.VoteKey(vote.VotableType, vote.VotableID))
		}
		var bookIDs []string
		if err := tx.Model(&catalog.Book{}).Where("created_by = ?", userID).Pluck("id", &bookIDs).Error; err != nil {
			return err
		}
		keys, err := catalog.CascadeDeleteBooks(tx, bookIDs)
		if err != nil {
			return err
		}
		removed = append(removed, keys...)
		var threadIDs []string
		if err := tx.Model(&catalog.Thread{}).Where("created_by = ?", userID).Pluck("id", &threadIDs).Error; err != nil {
			return err
		}
		if keys, err = catalog.CascadeDeleteThreads(tx, threadIDs); err != nil {
			return err
		}
		removed = append(removed, keys...)
		var commentIDs []string
		if err := tx.Model(&catalog.Comment{}).Where("created_by = ?", userID).Pluck("id", &commentIDs).Error; err != nil {
			return err
		}
		if keys, err = catalog.CascadeDeleteComments(tx, commentIDs); err != nil {
			return err
		}
		removed = append(removed, keys...)
		steps := []struct {
			model any
			where string
			args  []any
		}{
			{&catalog.Vote{}, "user_id = ?", []any{userID}},
			{&catalog.Favorite{}, "user_id = ?", []any{userID}},
			{&catalog.Follow{}, "follower_id = ? OR following_id = ?", []any{userID, userID}},
			{&catalog.EventParticipant{}, "user_id = ?", []any{userID}},
			{&catalog.Profile{}, "id = ?", []any{userID}},
			{&Identity{}, "user_id = ?", []any{userID}},
		}
		for _, step := range steps {
			if err := tx.Where(step.where, step.args...).Delete(step.model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	s.metrics.ObserveWrite(opDeleteAccount, err)
	if err != nil {
		return DeletionResult{}, s.fail(opDeleteAccount, reasonWrite, err)
	}
	s.state.Discard(ctx, removed...)

	s.cache.Range(func(key, value any) bool {
		if value == userID {
			s.cache.Delete(key)
		}
		return true
	})
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return DeletionResult{Message: accountDeleted}, nil
}

func viewOf(profile catalog.Profile) ProfileView {
	return ProfileView{
		ID:             profile.ID,
		Username:       profile.Username,
		Bio:            profile.Bio,
		FavoriteGenre:  profile.FavoriteGenre,
		FollowerCount:  profile.FollowerCount,
		FollowingCount: profile.FollowingCount,
	}
}

func invalid(message string) error {
	return serviceerror.New(opUpdateProfile, reasonInvalid, fmt.Errorf("%w: %s", serviceerror.ErrInvalidInput, message))
}

func (s *Service) fail(operation, reason string, err error) error {
	s.logger.Error("users service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return serviceerror.New(operation, reason, err)
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if before, after, found := strings.Cut(raw, ":"); found {
			if normalize(before) != "" && normalize(after) != "" {
				provider = normalize(before)
				subject = normalize(after)
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
