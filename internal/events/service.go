// Package events runs time-boxed community readings of a book.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew          = "events.service.new"
	opSchedule            = "events.schedule"
	opListActive          = "events.list_active"
	opToggleParticipation = "events.toggle_participation"
	opCleanupExpired      = "events.cleanup_expired"

	reasonMissingDB  = "missing_database"
	reasonMissingIDs = "missing_id_provider"
	reasonAnonymous  = "anonymous"
	reasonInvalid    = "invalid_input"
	reasonNotFound   = "not_found"
	reasonIDFailed   = "id_generation_failed"
	reasonQuery      = "query_failed"
	reasonWrite      = "write_failed"

	whereParticipant = "event_id = ? AND user_id = ?"
)

// NewEvent is the caller input for Schedule.
type NewEvent struct {
	BookID catalog.EntityID
	Start  time.Time
	End    time.Time
}

// EventView is an active event as shown to a viewer.
type EventView struct {
	ID               string `json:"id"`
	BookID           string `json:"bookId"`
	BookTitle        string `json:"bookTitle"`
	BookAuthor       string `json:"bookAuthor"`
	StartAt          int64  `json:"startAt"`
	EndAt            int64  `json:"endAt"`
	ParticipantCount int64  `json:"participantCount"`
	Joined           bool   `json:"joined"`
}

// CleanupReport lists the events archived by CleanupExpired.
type CleanupReport struct {
	Archived []string `json:"archived"`
}

// ServiceConfig describes the dependencies of the events service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider catalog.IDProvider
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service manages events and their participants.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider catalog.IDProvider
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDB, serviceerror.ErrMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingIDs, errors.New("id provider is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, metrics: cfg.Metrics, logger: logger}, nil
}

// Schedule creates an active event for an existing book.
func (s *Service) Schedule(ctx context.Context, organizer catalog.UserID, input NewEvent) (catalog.Event, error) {
	if organizer.Anonymous() {
		return catalog.Event{}, serviceerror.New(opSchedule, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	if !input.End.After(input.Start) || !input.End.After(s.clock()) {
		return catalog.Event{}, serviceerror.New(opSchedule, reasonInvalid,
			fmt.Errorf("%w: event must end after it starts and in the future", serviceerror.ErrInvalidInput))
	}
	var books int64
	if err := s.db.WithContext(ctx).Model(&catalog.Book{}).Where("id = ?", input.BookID.String()).Count(&books).Error; err != nil {
		return catalog.Event{}, s.fail(opSchedule, reasonQuery, err)
	}
	if books == 0 {
		return catalog.Event{}, serviceerror.New(opSchedule, reasonNotFound, serviceerror.ErrNotFound)
	}
	eventID, err := s.idProvider.NewID()
	if err != nil {
		return catalog.Event{}, s.fail(opSchedule, reasonIDFailed, err)
	}
	event := catalog.Event{
		ID:             eventID,
		BookID:         input.BookID.String(),
		StartAtSeconds: input.Start.UTC().Unix(),
		EndAtSeconds:   input.End.UTC().Unix(),
		IsActive:       true,
	}
	err = s.db.WithContext(ctx).Create(&event).Error
	s.metrics.ObserveWrite(opSchedule, err)
	if err != nil {
		return catalog.Event{}, s.fail(opSchedule, reasonWrite, err)
	}
	return event, nil
}

// ListActive returns active events that have not ended, soonest start first.
func (s *Service) ListActive(ctx context.Context, viewer catalog.UserID) ([]EventView, error) {
	db := s.db.WithContext(ctx)
	var active []catalog.Event
	err := db.Where("is_active = ? AND end_at_s > ?", true, s.clock().Unix()).
		Order("start_at_s ASC").Order("id ASC").
		Find(&active).Error
	if err != nil {
		return nil, s.fail(opListActive, reasonQuery, err)
	}
	views := make([]EventView, 0, len(active))
	if len(active) == 0 {
		return views, nil
	}

	eventIDs := make([]string, 0, len(active))
	bookIDs := make([]string, 0, len(active))
	for _, event := range active {
		eventIDs = append(eventIDs, event.ID)
		bookIDs = append(bookIDs, event.BookID)
	}
	var books []catalog.Book
	if err := db.Where("id IN ?", bookIDs).Find(&books).Error; err != nil {
		return nil, s.fail(opListActive, reasonQuery, err)
	}
	booksByID := make(map[string]catalog.Book, len(books))
	for _, book := range books {
		booksByID[book.ID] = book
	}
	var participants []catalog.EventParticipant
	if err := db.Where("event_id IN ?", eventIDs).Find(&participants).Error; err != nil {
		return nil, s.fail(opListActive, reasonQuery, err)
	}
	counts := make(map[string]int64, len(active))
	joined := make(map[string]bool)
	for _, participant := range participants {
		counts[participant.EventID]++
		if !viewer.Anonymous() && participant.UserID == viewer.String() {
			joined[participant.EventID] = true
		}
	}

	for _, event := range active {
		book := booksByID[event.BookID]
		views = append(views, EventView{
			ID:               event.ID,
			BookID:           event.BookID,
			BookTitle:        book.Title,
			BookAuthor:       book.Author,
			StartAt:          event.StartAtSeconds,
			EndAt:            event.EndAtSeconds,
			ParticipantCount: counts[event.ID],
			Joined:           joined[event.ID],
		})
	}
	return views, nil
}

// ToggleParticipation joins or leaves an event that is still running and returns the new state.
func (s *Service) ToggleParticipation(ctx context.Context, user catalog.UserID, eventID catalog.EntityID) (bool, error) {
	if user.Anonymous() {
		return false, serviceerror.New(opToggleParticipation, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	var joined bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event catalog.Event
		err := tx.Where("id = ? AND is_active = ? AND end_at_s > ?", eventID.String(), true, s.clock().Unix()).Take(&event).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return serviceerror.New(opToggleParticipation, reasonNotFound, serviceerror.ErrNotFound)
		}
		if err != nil {
			return s.fail(opToggleParticipation, reasonQuery, err)
		}
		var present int64
		if err := tx.Model(&catalog.EventParticipant{}).Where(whereParticipant, event.ID, user.String()).Count(&present).Error; err != nil {
			return s.fail(opToggleParticipation, reasonQuery, err)
		}
		if present > 0 {
			joined = false
			if err := tx.Where(whereParticipant, event.ID, user.String()).Delete(&catalog.EventParticipant{}).Error; err != nil {
				return s.fail(opToggleParticipation, reasonWrite, err)
			}
			return nil
		}
		joined = true
		participant := catalog.EventParticipant{EventID: event.ID, UserID: user.String(), JoinedAtSeconds: s.clock().UTC().Unix()}
		if err := tx.Create(&participant).Error; err != nil {
			return s.fail(opToggleParticipation, reasonWrite, err)
		}
		return nil
	})
	s.metrics.ObserveWrite(opToggleParticipation, err)
	if err != nil {
		return false, err
	}
	return joined, nil
}

// CleanupExpired archives every event whose end has passed and then deletes its
// participants and the event. Each event is handled in its own transaction, so a
// failure leaves earlier events archived.
func (s *Service) CleanupExpired(ctx context.Context) (CleanupReport, error) {
	report := CleanupReport{Archived: []string{}}
	now := s.clock().UTC()

	var expired []catalog.Event
	err := s.db.WithContext(ctx).Where("end_at_s <= ?", now.Unix()).Order("end_at_s ASC").Order("id ASC").Find(&expired).Error
	if err != nil {
		return report, s.fail(opCleanupExpired, reasonQuery, err)
	}
	for _, event := range expired {
		if err := s.archive(ctx, event, now); err != nil {
			return report, err
		}
		report.Archived = append(report.Archived, event.ID)
		s.logger.Info("event archived", zap.String("event_id", event.ID), zap.String("book_id", event.BookID))
	}
	return report, nil
}

func (s *Service) archive(ctx context.Context, event catalog.Event, now time.Time) error {
	archiveID, err := s.idProvider.NewID()
	if err != nil {
		return s.fail(opCleanupExpired, reasonIDFailed, err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var participants int64
		if err := tx.Model(&catalog.EventParticipant{}).Where("event_id = ?", event.ID).Count(&participants).Error; err != nil {
			return err
		}
		var book catalog.Book
		if err := tx.Where("id = ?", event.BookID).Take(&book).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		summary := catalog.EventArchive{
			ID:                archiveID,
			EventID:           event.ID,
			BookID:            event.BookID,
			BookTitle:         book.Title,
			BookAuthor:        book.Author,
			ParticipantCount:  participants,
			StartAtSeconds:    event.StartAtSeconds,
			EndAtSeconds:      event.EndAtSeconds,
			ArchivedAtSeconds: now.Unix(),
		}
		if err := tx.Create(&summary).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", event.ID).Delete(&catalog.EventParticipant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", event.ID).Delete(&catalog.Event{}).Error
	})
	s.metrics.ObserveWrite(opCleanupExpired, err)
	if err != nil {
		return s.fail(opCleanupExpired, reasonWrite, err)
	}
	return nil
}

func (s *Service) fail(operation, reason string, err error) error {
	s.logger.Error("events service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return serviceerror.New(operation, reason, err)
}
