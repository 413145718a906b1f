package votes

import (
	"context"
	"errors"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "votes.service.new"
	opTally      = "votes.tally"
	opCast       = "votes.cast"

	reasonMissingDatabase = "missing_database"
	reasonAnonymous       = "anonymous"
	reasonInvalidValue    = "invalid_value"
	reasonTargetLookup    = "target_lookup_failed"
	reasonTargetMissing   = "target_missing"
	reasonExistingLookup  = "existing_lookup_failed"
	reasonInsertFailed    = "insert_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonUpdateFailed    = "update_failed"
	reasonScoreFailed     = "score_query_failed"
	reasonUserValueFailed = "user_value_query_failed"

	whereTargetVote = "votable_type = ? AND votable_id = ?"
	whereViewerVote = "votable_type = ? AND votable_id = ? AND user_id = ?"
)

// ServiceConfig describes the dependencies of the vote ledger.
type ServiceConfig struct {
	Database *gorm.DB
	State    *entitystate.State
	Clock    func() time.Time
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service reads and writes the vote ledger.
type Service struct {
	db      *gorm.DB
	state   *entitystate.State
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService validates the configuration and returns a Service. A nil State gets a
// private one with caching disabled.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDatabase, serviceerror.ErrMissingDatabase)
	}
	state := cfg.State
	if state == nil {
		state = entitystate.New(entitystate.Config{})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, state: state, clock: clock, metrics: cfg.Metrics, logger: logger}, nil
}

// Tally folds every vote on target into a score. The viewer's own vote is included when
// the viewer is signed in.
func (s *Service) Tally(ctx context.Context, target Target, viewer catalog.UserID) (Tally, error) {
	score, err := s.score(ctx, target)
	if err != nil {
		return Tally{}, err
	}
	userValue, err := s.userValue(ctx, s.db, target, viewer)
	if err != nil {
		return Tally{}, err
	}
	return Tally{Score: score, UserValue: userValue}, nil
}

// Cast applies a vote click: insert when absent, remove when repeated, flip when opposite.
// The resulting tally is re-read from the store after commit.
func (s *Service) Cast(ctx context.Context, target Target, voter catalog.UserID, requested VoteValue) (Tally, error) {
	if voter.Anonymous() {
		return Tally{}, serviceerror.New(opCast, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	if _, err := ParseVoteValue(int(requested)); err != nil {
		return Tally{}, serviceerror.New(opCast, reasonInvalidValue, err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTarget(tx, target); err != nil {
			return err
		}
		existing, err := s.userValue(ctx, tx, target, voter)
		if err != nil {
			return serviceerror.New(opCast, reasonExistingLookup, err)
		}
		return s.apply(tx, target, voter, resolveVote(existing, requested))
	})
	s.metrics.ObserveWrite(opCast, err)
	if err != nil {
		return Tally{}, err
	}

	tally, err := s.readTally(ctx, target, voter)
	if err != nil {
		return Tally{}, err
	}
	s.state.Commit(ctx, entitystate.KindScore, target.Key(), tally.Score)
	return tally, nil
}

func (s *Service) apply(tx *gorm.DB, target Target, voter catalog.UserID, decision voteDecision) error {
	now := s.clock().UTC().Unix()
	fields := []zap.Field{
		zap.String("votable_type", string(target.Type)),
		zap.String("votable_id", target.ID.String()),
		zap.String("user_id", voter.String()),
	}
	switch decision.action {
	case actionInsert:
		vote := catalog.Vote{
			VotableType:      string(target.Type),
			VotableID:        target.ID.String(),
			UserID:           voter.String(),
			Value:            int(decision.value),
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&vote).Error; err != nil {
			s.logError(opCast, reasonInsertFailed, err, fields...)
			return serviceerror.New(opCast, reasonInsertFailed, err)
		}
	case actionRemove:
		err := tx.Where(whereViewerVote, string(target.Type), target.ID.String(), voter.String()).
			Delete(&catalog.Vote{}).Error
		if err != nil {
			s.logError(opCast, reasonDeleteFailed, err, fields...)
			return serviceerror.New(opCast, reasonDeleteFailed, err)
		}
	case actionChange:
		err := tx.Model(&catalog.Vote{}).
			Where(whereViewerVote, string(target.Type), target.ID.String(), voter.String()).
			Updates(map[string]any{"value": int(decision.value), "updated_at_s": now}).Error
		if err != nil {
			s.logError(opCast, reasonUpdateFailed, err, fields...)
			return serviceerror.New(opCast, reasonUpdateFailed, err)
		}
	}
	return nil
}

func (s *Service) ensureTarget(tx *gorm.DB, target Target) error {
	var count int64
	if err := tx.Table(target.Type.table()).Where("id = ?", target.ID.String()).Count(&count).Error; err != nil {
		s.logError(opCast, reasonTargetLookup, err)
		return serviceerror.New(opCast, reasonTargetLookup, err)
	}
	if count == 0 {
		return serviceerror.New(opCast, reasonTargetMissing, serviceerror.ErrNotFound)
	}
	return nil
}

// readTally bypasses the cache so writes always observe the committed ledger.
func (s *Service) readTally(ctx context.Context, target Target, viewer catalog.UserID) (Tally, error) {
	score, err := s.sumScore(ctx, target)
	if err != nil {
		return Tally{}, err
	}
	userValue, err := s.userValue(ctx, s.db, target, viewer)
	if err != nil {
		return Tally{}, err
	}
	return Tally{Score: score, UserValue: userValue}, nil
}

func (s *Service) score(ctx context.Context, target Target) (int64, error) {
	key := target.Key()
	if cached, ok := s.state.Lookup(key); ok {
		if score, ok := cached.(int64); ok {
			s.metrics.ObserveCacheLookup(key.Type, true)
			return score, nil
		}
	}
	s.metrics.ObserveCacheLookup(key.Type, false)
	score, err := s.sumScore(ctx, target)
	if err != nil {
		return 0, err
	}
	s.state.Remember(key, score)
	return score, nil
}

func (s *Service) sumScore(ctx context.Context, target Target) (int64, error) {
	var score int64
	err := s.db.WithContext(ctx).
		Model(&catalog.Vote{}).
		Select("COALESCE(SUM(value), 0)").
		Where(whereTargetVote, string(target.Type), target.ID.String()).
		Scan(&score).Error
	if err != nil {
		s.logError(opTally, reasonScoreFailed, err, zap.String("votable_id", target.ID.String()))
		return 0, serviceerror.New(opTally, reasonScoreFailed, err)
	}
	return score, nil
}

func (s *Service) userValue(ctx context.Context, db *gorm.DB, target Target, viewer catalog.UserID) (VoteValue, error) {
	if viewer.Anonymous() {
		return None, nil
	}
	var vote catalog.Vote
	err := db.WithContext(ctx).
		Where(whereViewerVote, string(target.Type), target.ID.String(), viewer.String()).
		Take(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return None, nil
	}
	if err != nil {
		s.logError(opTally, reasonUserValueFailed, err, zap.String("votable_id", target.ID.String()))
		return None, serviceerror.New(opTally, reasonUserValueFailed, err)
	}
	return VoteValue(vote.Value), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil || s.logger == nil {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("votes service error", attrs...)
}
