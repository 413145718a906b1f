package database

import (
	"errors"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationSeedDefaultGenres   = "2026-10-01_seed_default_genres"
	migrationFollowCountTriggers = "2026-10-01_follow_count_triggers"
	migrationBackfillFollowCount = "2026-10-02_backfill_follow_counts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedDefaultGenres, apply: seedDefaultGenres},
		{name: migrationFollowCountTriggers, apply: installFollowCountTriggers},
		{name: migrationBackfillFollowCount, apply: backfillFollowCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedDefaultGenres(db *gorm.DB) error {
	genres := catalog.SeedGenres(catalog.DefaultGenres)
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&genres).Error
}

// Follower and following counts on profiles are owned by these triggers.
// Decrements never take a count below zero.
var sqliteFollowTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS follows_count_insert AFTER INSERT ON follows
BEGIN
	UPDATE profiles SET following_count = following_count + 1 WHERE id = NEW.follower_id;
	UPDATE profiles SET follower_count = follower_count + 1 WHERE id = NEW.following_id;
END`,
	`CREATE TRIGGER IF NOT EXISTS follows_count_delete AFTER DELETE ON follows
BEGIN
	UPDATE profiles SET following_count = following_count - 1 WHERE id = OLD.follower_id AND following_count > 0;
	UPDATE profiles SET follower_count = follower_count - 1 WHERE id = OLD.following_id AND follower_count > 0;
END`,
}

var postgresFollowTriggers = []string{
	`CREATE OR REPLACE FUNCTION follows_maintain_counts() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'INSERT' THEN
		UPDATE profiles SET following_count = following_count + 1 WHERE id = NEW.follower_id;
		UPDATE profiles SET follower_count = follower_count + 1 WHERE id = NEW.following_id;
		RETURN NEW;
	END IF;
	UPDATE profiles SET following_count = following_count - 1 WHERE id = OLD.follower_id AND following_count > 0;
	UPDATE profiles SET follower_count = follower_count - 1 WHERE id = OLD.following_id AND follower_count > 0;
	RETURN OLD;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS follows_count_changes ON follows`,
	`CREATE TRIGGER follows_count_changes AFTER INSERT OR DELETE ON follows
	FOR EACH ROW EXECUTE FUNCTION follows_maintain_counts()`,
}

func installFollowCountTriggers(db *gorm.DB) error {
	statements := sqliteFollowTriggers
	if db.Dialector.Name() == DriverPostgres {
		statements = postgresFollowTriggers
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

func backfillFollowCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE profiles SET
	follower_count = (SELECT COUNT(*) FROM follows WHERE follows.following_id = profiles.id),
	following_count = (SELECT COUNT(*) FROM follows WHERE follows.follower_id = profiles.id)`).Error
}
