package database

import (
	"path/filepath"
	"testing"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) (*gorm.DB, string) {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "bookthreads.db")
	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	return database, databasePath
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open("mysql", "dsn", nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}

func TestOpenSeedsDefaultGenres(testContext *testing.T) {
	database, _ := openTestDatabase(testContext)

	var genres []catalog.Genre
	if err := database.Order("id ASC").Find(&genres).Error; err != nil {
		testContext.Fatalf("failed to list genres: %v", err)
	}
	if len(genres) != len(catalog.DefaultGenres) {
		testContext.Fatalf("expected %d genres, got %d", len(catalog.DefaultGenres), len(genres))
	}
	var scienceFiction catalog.Genre
	if err := database.Where("id = ?", "science-fiction").Take(&scienceFiction).Error; err != nil {
		testContext.Fatalf("expected science fiction genre: %v", err)
	}
	if scienceFiction.Name != "Science Fiction" {
		testContext.Fatalf("unexpected genre name %q", scienceFiction.Name)
	}
}

func TestMigrationsApplyOnce(testContext *testing.T) {
	_, databasePath := openTestDatabase(testContext)

	core, logs := observer.New(zap.InfoLevel)
	reopened, err := Open(DriverSQLite, databasePath, zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to reopen database: %v", err)
	}

	var records []migrationRecord
	if err := reopened.Find(&records).Error; err != nil {
		testContext.Fatalf("failed to read migration ledger: %v", err)
	}
	if len(records) != 3 {
		testContext.Fatalf("expected 3 migration records, got %d", len(records))
	}
	for _, record := range records {
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration %s to carry a timestamp", record.Name)
		}
	}
	if applied := logs.FilterMessage("database migration applied").Len(); applied != 0 {
		testContext.Fatalf("expected no migrations on reopen, got %d", applied)
	}
}

func TestFollowTriggersMaintainProfileCounts(testContext *testing.T) {
	database, _ := openTestDatabase(testContext)

	for _, id := range []string{"alice", "bob"} {
		if err := database.Create(&catalog.Profile{ID: id, Username: id}).Error; err != nil {
			testContext.Fatalf("failed to create profile: %v", err)
		}
	}
	follow := catalog.Follow{FollowerID: "alice", FollowingID: "bob", CreatedAtSeconds: 1}
	if err := database.Create(&follow).Error; err != nil {
		testContext.Fatalf("failed to insert follow: %v", err)
	}

	assertCounts := func(id string, followers, following int64) {
		testContext.Helper()
		var profile catalog.Profile
		if err := database.Where("id = ?", id).Take(&profile).Error; err != nil {
			testContext.Fatalf("failed to load profile %s: %v", id, err)
		}
		if profile.FollowerCount != followers || profile.FollowingCount != following {
			testContext.Fatalf("profile %s: expected %d/%d, got %d/%d", id, followers, following, profile.FollowerCount, profile.FollowingCount)
		}
	}
	assertCounts("alice", 0, 1)
	assertCounts("bob", 1, 0)

	if err := database.Where("follower_id = ? AND following_id = ?", "alice", "bob").Delete(&catalog.Follow{}).Error; err != nil {
		testContext.Fatalf("failed to delete follow: %v", err)
	}
	assertCounts("alice", 0, 0)
	assertCounts("bob", 0, 0)
}

func TestBackfillFollowCountsRecomputesFromEdges(testContext *testing.T) {
	database, _ := openTestDatabase(testContext)

	if err := database.Create(&catalog.Profile{ID: "carol", FollowerCount: 9}).Error; err != nil {
		testContext.Fatalf("failed to create profile: %v", err)
	}
	if err := backfillFollowCounts(database); err != nil {
		testContext.Fatalf("backfill failed: %v", err)
	}
	var profile catalog.Profile
	if err := database.Where("id = ?", "carol").Take(&profile).Error; err != nil {
		testContext.Fatalf("failed to load profile: %v", err)
	}
	if profile.FollowerCount != 0 {
		testContext.Fatalf("expected follower count reset to 0, got %d", profile.FollowerCount)
	}
}
