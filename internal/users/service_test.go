package users_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/auth"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/database"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"github.com/bookthreads/bookthreads-api/internal/users"
	"github.com/bookthreads/bookthreads-api/internal/votes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newUsersService(t *testing.T) (*users.Service, *gorm.DB) {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "users.db"), zap.NewNop())
	require.NoError(t, err)
	service, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1_760_000_000, 0) },
	})
	require.NoError(t, err)
	return service, db
}

func stringPointer(value string) *string {
	return &value
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service, db := newUsersService(t)
	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
	}
	userID, err := service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call hits the cache and does not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil || userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q (%v)", userID, err)
	}

	var identities, profiles int64
	require.NoError(t, db.Model(&users.Identity{}).Count(&identities).Error)
	require.NoError(t, db.Model(&catalog.Profile{}).Where("id = ?", "12345").Count(&profiles).Error)
	assert.Equal(t, int64(1), identities)
	assert.Equal(t, int64(1), profiles)

	_, err = service.ResolveCanonicalUserID(context.Background(), auth.SessionClaims{})
	require.ErrorIs(t, err, users.ErrInvalidIdentity)
}

func TestProfileAndUpdateProfile(t *testing.T) {
	service, _ := newUsersService(t)
	ctx := context.Background()
	user, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "reader-1"})
	require.NoError(t, err)

	profile, err := service.Profile(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, profile.Username)
	assert.Nil(t, profile.FavoriteGenre)

	updated, err := service.UpdateProfile(ctx, user, users.ProfileUpdate{
		Username:      stringPointer(" Ada "),
		FavoriteGenre: stringPointer("Fantasy"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.Username)
	require.NotNil(t, updated.FavoriteGenre)
	assert.Equal(t, "Fantasy", *updated.FavoriteGenre)

	_, err = service.UpdateProfile(ctx, user, users.ProfileUpdate{FavoriteGenre: stringPointer("Cooking")})
	require.ErrorIs(t, err, serviceerror.ErrInvalidInput)

	cleared, err := service.UpdateProfile(ctx, user, users.ProfileUpdate{FavoriteGenre: stringPointer("")})
	require.NoError(t, err)
	assert.Nil(t, cleared.FavoriteGenre)
	assert.Equal(t, "Ada", cleared.Username)

	names, err := service.DisplayNames(ctx, []string{"reader-1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"reader-1": "Ada"}, names)

	_, err = service.Profile(ctx, "ghost")
	require.ErrorIs(t, err, serviceerror.ErrNotFound)
	_, err = service.UpdateProfile(ctx, "", users.ProfileUpdate{})
	require.ErrorIs(t, err, serviceerror.ErrAuthenticationRequired)
}

func TestDeleteAccountCascades(t *testing.T) {
	service, db := newUsersService(t)
	ctx := context.Background()
	leaving, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "leaving"})
	require.NoError(t, err)
	_, err = service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "staying"})
	require.NoError(t, err)

	rows := []any{
		&catalog.Book{ID: "own-book", Title: "Mine", Author: "A", CreatedBy: "leaving"},
		&catalog.BookGenre{BookID: "own-book", GenreID: "fantasy"},
		&catalog.Book{ID: "other-book", Title: "Theirs", Author: "B", CreatedBy: "staying"},
		&catalog.Thread{ID: "own-thread", BookID: "other-book", CreatedBy: "leaving", Title: "t", Content: "c"},
		&catalog.Thread{ID: "other-thread", BookID: "other-book", CreatedBy: "staying", Title: "t", Content: "c"},
		&catalog.Comment{ID: "own-comment", ThreadID: "other-thread", CreatedBy: "leaving", Content: "x"},
		&catalog.Comment{ID: "other-comment", ThreadID: "other-thread", CreatedBy: "staying", Content: "y"},
		&catalog.Vote{VotableType: catalog.VotableBook, VotableID: "other-book", UserID: "leaving", Value: 1},
		&catalog.Vote{VotableType: catalog.VotableComment, VotableID: "other-comment", UserID: "staying", Value: 1},
		&catalog.Favorite{UserID: "leaving", BookID: "other-book"},
		&catalog.Follow{FollowerID: "leaving", FollowingID: "staying"},
		&catalog.Follow{FollowerID: "staying", FollowingID: "leaving"},
		&catalog.Event{ID: "event", BookID: "other-book", EndAtSeconds: 1, IsActive: true},
		&catalog.EventParticipant{EventID: "event", UserID: "leaving"},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	result, err := service.DeleteAccount(ctx, leaving)
	require.NoError(t, err)
	assert.Equal(t, "account deleted", result.Message)

	remaining := func(model any, where string, args ...any) int64 {
		var count int64
		require.NoError(t, db.Model(model).Where(where, args...).Count(&count).Error)
		return count
	}
	assert.Zero(t, remaining(&catalog.Book{}, "created_by = ?", "leaving"))
	assert.Zero(t, remaining(&catalog.BookGenre{}, "book_id = ?", "own-book"))
	assert.Zero(t, remaining(&catalog.Thread{}, "created_by = ?", "leaving"))
	assert.Zero(t, remaining(&catalog.Comment{}, "created_by = ?", "leaving"))
	assert.Zero(t, remaining(&catalog.Vote{}, "user_id = ?", "leaving"))
	assert.Zero(t, remaining(&catalog.Favorite{}, "user_id = ?", "leaving"))
	assert.Zero(t, remaining(&catalog.Follow{}, "follower_id = ? OR following_id = ?", "leaving", "leaving"))
	assert.Zero(t, remaining(&catalog.EventParticipant{}, "user_id = ?", "leaving"))
	assert.Zero(t, remaining(&catalog.Profile{}, "id = ?", "leaving"))
	assert.Zero(t, remaining(&users.Identity{}, "user_id = ?", "leaving"))

	assert.Equal(t, int64(1), remaining(&catalog.Comment{}, "id = ?", "other-comment"))
	assert.Equal(t, int64(1), remaining(&catalog.Vote{}, "user_id = ?", "staying"))

	staying, err := service.Profile(ctx, "staying")
	require.NoError(t, err)
	assert.Zero(t, staying.FollowerCount)
	assert.Zero(t, staying.FollowingCount)

	again, err := service.ResolveCanonicalUserID(ctx, auth.SessionClaims{UserID: "leaving"})
	require.NoError(t, err)
	assert.Equal(t, leaving, again)
	_, err = service.Profile(ctx, again)
	require.NoError(t, err)
}

func TestDeleteAccountDropsCachedScores(t *testing.T) {
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "users.db"), zap.NewNop())
	require.NoError(t, err)
	state := entitystate.New(entitystate.Config{TTL: 30 * time.Second})
	service, err := users.NewService(users.ServiceConfig{Database: db, State: state})
	require.NoError(t, err)
	voteService, err := votes.NewService(votes.ServiceConfig{Database: db, State: state})
	require.NoError(t, err)
	ctx := context.Background()

	rows := []any{
		&catalog.Book{ID: "book-1", Title: "Emma", Author: "Austen", CreatedBy: "owner"},
		&catalog.Book{ID: "voter-book", Title: "Mine", Author: "A", CreatedBy: "voter"},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}
	otherBook := votes.Target{Type: votes.TypeBook, ID: "book-1"}
	ownBook := votes.Target{Type: votes.TypeBook, ID: "voter-book"}
	_, err = voteService.Cast(ctx, otherBook, "voter", votes.Up)
	require.NoError(t, err)
	_, err = voteService.Cast(ctx, ownBook, "owner", votes.Up)
	require.NoError(t, err)
	tally, err := voteService.Tally(ctx, otherBook, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), tally.Score)

	_, err = service.DeleteAccount(ctx, "voter")
	require.NoError(t, err)

	var stored int64
	require.NoError(t, db.Model(&catalog.Vote{}).Count(&stored).Error)
	require.Zero(t, stored)
	for _, target := range []votes.Target{otherBook, ownBook} {
		tally, err := voteService.Tally(ctx, target, "")
		require.NoError(t, err)
		assert.Zerof(t, tally.Score, "stale score for %s", target.Key())
	}
}
