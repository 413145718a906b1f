package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "catalog.service.new"
	opAddBook     = "catalog.add_book"
	opGetBook     = "catalog.get_book"
	opListGenres  = "catalog.list_genres"
	opDeleteBook  = "catalog.delete_book"
	fieldBookID   = "book_id"
	fieldUserID   = "user_id"
	maxTitleRunes = 512

	reasonMissingDatabase   = "missing_database"
	reasonMissingCreator    = "missing_creator"
	reasonInvalidInput      = "invalid_input"
	reasonUnknownGenre      = "unknown_genre"
	reasonGenreLookupFailed = "genre_lookup_failed"
	reasonIDGeneration      = "id_generation_failed"
	reasonBookInsertFailed  = "book_insert_failed"
	reasonGenreLinkFailed   = "genre_link_failed"
	reasonQueryFailed       = "query_failed"
	reasonNotFound          = "not_found"
	reasonForbidden         = "forbidden"
	reasonCascadeFailed     = "cascade_failed"
)

// ServiceConfig describes the dependencies of the catalog service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	State      *entitystate.State
	Logger     *zap.Logger
}

// Service owns books and their genre links.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	state      *entitystate.State
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDatabase, serviceerror.ErrMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, state: cfg.State, logger: logger}, nil
}

// NewBook is the caller input for AddBook.
type NewBook struct {
	Title    string
	Author   string
	GenreIDs []string
}

// BookDetails is a book together with its genres.
type BookDetails struct {
	Book   Book
	Genres []Genre
}

// AddBook inserts the book and then links its genres. The two writes are not atomic:
// when linking fails the created book is returned together with a
// catalog.add_book.genre_link_failed error, leaving a book without genres.
func (s *Service) AddBook(ctx context.Context, creator UserID, input NewBook) (Book, error) {
	if s.db == nil {
		return Book{}, serviceerror.New(opAddBook, reasonMissingDatabase, serviceerror.ErrMissingDatabase)
	}
	if creator.Anonymous() {
		return Book{}, serviceerror.New(opAddBook, reasonMissingCreator, serviceerror.ErrAuthenticationRequired)
	}
	title := strings.TrimSpace(input.Title)
	author := strings.TrimSpace(input.Author)
	if title == "" || author == "" || len([]rune(title)) > maxTitleRunes || len([]rune(author)) > maxTitleRunes {
		return Book{}, serviceerror.New(opAddBook, reasonInvalidInput,
			fmt.Errorf("%w: title and author are required", serviceerror.ErrInvalidInput))
	}

	genreIDs := dedupe(input.GenreIDs)
	if len(genreIDs) > 0 {
		var known int64
		if err := s.db.WithContext(ctx).Model(&Genre{}).Where("id IN ?", genreIDs).Count(&known).Error; err != nil {
			s.logError(opAddBook, reasonGenreLookupFailed, err)
			return Book{}, serviceerror.New(opAddBook, reasonGenreLookupFailed, err)
		}
		if known != int64(len(genreIDs)) {
			return Book{}, serviceerror.New(opAddBook, reasonUnknownGenre,
				fmt.Errorf("%w: unknown genre", serviceerror.ErrInvalidInput))
		}
	}

	bookID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddBook, reasonIDGeneration, err)
		return Book{}, serviceerror.New(opAddBook, reasonIDGeneration, err)
	}
	book := Book{
		ID:               bookID,
		Title:            title,
		Author:           author,
		CreatedBy:        creator.String(),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		s.logError(opAddBook, reasonBookInsertFailed, err, zap.String(fieldUserID, creator.String()))
		return Book{}, serviceerror.New(opAddBook, reasonBookInsertFailed, err)
	}

	if len(genreIDs) == 0 {
		return book, nil
	}
	links := make([]BookGenre, 0, len(genreIDs))
	for _, genreID := range genreIDs {
		links = append(links, BookGenre{BookID: book.ID, GenreID: genreID})
	}
	if err := s.db.WithContext(ctx).Create(&links).Error; err != nil {
		s.logError(opAddBook, reasonGenreLinkFailed, err, zap.String(fieldBookID, book.ID))
		return book, serviceerror.New(opAddBook, reasonGenreLinkFailed, err)
	}
	return book, nil
}

// GetBook returns the book and its genres.
func (s *Service) GetBook(ctx context.Context, bookID EntityID) (BookDetails, error) {
	if s.db == nil {
		return BookDetails{}, serviceerror.New(opGetBook, reasonMissingDatabase, serviceerror.ErrMissingDatabase)
	}
	var book Book
	err := s.db.WithContext(ctx).Where("id = ?", bookID.String()).Take(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BookDetails{}, serviceerror.New(opGetBook, reasonNotFound, serviceerror.ErrNotFound)
	}
	if err != nil {
		s.logError(opGetBook, reasonQueryFailed, err, zap.String(fieldBookID, bookID.String()))
		return BookDetails{}, serviceerror.New(opGetBook, reasonQueryFailed, err)
	}

	genres, err := GenresOfBooks(ctx, s.db, []string{book.ID})
	if err != nil {
		s.logError(opGetBook, reasonQueryFailed, err, zap.String(fieldBookID, book.ID))
		return BookDetails{}, serviceerror.New(opGetBook, reasonQueryFailed, err)
	}
	return BookDetails{Book: book, Genres: genres[book.ID]}, nil
}

// ListGenres returns the genre reference set ordered by name.
func (s *Service) ListGenres(ctx context.Context) ([]Genre, error) {
	if s.db == nil {
		return nil, serviceerror.New(opListGenres, reasonMissingDatabase, serviceerror.ErrMissingDatabase)
	}
	var genres []Genre
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&genres).Error; err != nil {
		s.logError(opListGenres, reasonQueryFailed, err)
		return nil, serviceerror.New(opListGenres, reasonQueryFailed, err)
	}
	return genres, nil
}

// DeleteBook removes a book created by actor along with everything that hangs off it:
// votes on the book, its threads and their comments, favorites, genre links and events.
func (s *Service) DeleteBook(ctx context.Context, actor UserID, bookID EntityID) error {
	if s.db == nil {
		return serviceerror.New(opDeleteBook, reasonMissingDatabase, serviceerror.ErrMissingDatabase)
	}
	if actor.Anonymous() {
		return serviceerror.New(opDeleteBook, reasonMissingCreator, serviceerror.ErrAuthenticationRequired)
	}
	var removed []entitystate.Key
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var book Book
		err := tx.Where("id = ?", bookID.String()).Take(&book).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return serviceerror.New(opDeleteBook, reasonNotFound, serviceerror.ErrNotFound)
		}
		if err != nil {
			s.logError(opDeleteBook, reasonQueryFailed, err, zap.String(fieldBookID, bookID.String()))
			return serviceerror.New(opDeleteBook, reasonQueryFailed, err)
		}
		if book.CreatedBy != actor.String() {
			return serviceerror.New(opDeleteBook, reasonForbidden, serviceerror.ErrForbidden)
		}
		keys, err := CascadeDeleteBooks(tx, []string{book.ID})
		if err != nil {
			s.logError(opDeleteBook, reasonCascadeFailed, err, zap.String(fieldBookID, book.ID))
			return serviceerror.New(opDeleteBook, reasonCascadeFailed, err)
		}
		removed = keys
		return nil
	})
	if err != nil {
		return err
	}
	s.state.Discard(ctx, removed...)
	return nil
}

// VoteKey is the shared entity state key holding the score of a votable row.
func VoteKey(votableType, votableID string) entitystate.Key {
	return entitystate.Key{Type: votableType, ID: votableID}
}

func voteKeys(votableType string, ids []string) []entitystate.Key {
	keys := make([]entitystate.Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, VoteKey(votableType, id))
	}
	return keys
}

// CascadeDeleteBooks deletes the books and every dependent row inside the caller's
// transaction. It returns the keys of the vote targets it removed; the caller discards
// them from entity state once the transaction commits.
func CascadeDeleteBooks(tx *gorm.DB, bookIDs []string) ([]entitystate.Key, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}
	var threadIDs []string
	if err := tx.Model(&Thread{}).Where("book_id IN ?", bookIDs).Pluck("id", &threadIDs).Error; err != nil {
		return nil, err
	}
	removed, err := CascadeDeleteThreads(tx, threadIDs)
	if err != nil {
		return nil, err
	}
	var eventIDs []string
	if err := tx.Model(&Event{}).Where("book_id IN ?", bookIDs).Pluck("id", &eventIDs).Error; err != nil {
		return nil, err
	}
	steps := []func() error{
		func() error { return tx.Where("event_id IN ?", eventIDs).Delete(&EventParticipant{}).Error },
		func() error { return tx.Where("id IN ?", eventIDs).Delete(&Event{}).Error },
		func() error {
			return tx.Where("votable_type = ? AND votable_id IN ?", VotableBook, bookIDs).Delete(&Vote{}).Error
		},
		func() error { return tx.Where("book_id IN ?", bookIDs).Delete(&Favorite{}).Error },
		func() error { return tx.Where("book_id IN ?", bookIDs).Delete(&BookGenre{}).Error },
		func() error { return tx.Where("id IN ?", bookIDs).Delete(&Book{}).Error },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return append(removed, voteKeys(VotableBook, bookIDs)...), nil
}

// CascadeDeleteThreads deletes threads, their comments and all votes on either, and
// returns the removed vote target keys.
func CascadeDeleteThreads(tx *gorm.DB, threadIDs []string) ([]entitystate.Key, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}
	var commentIDs []string
	if err := tx.Model(&Comment{}).Where("thread_id IN ?", threadIDs).Pluck("id", &commentIDs).Error; err != nil {
		return nil, err
	}
	removed, err := CascadeDeleteComments(tx, commentIDs)
	if err != nil {
		return nil, err
	}
	if err := tx.Where("votable_type = ? AND votable_id IN ?", VotableThread, threadIDs).Delete(&Vote{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("id IN ?", threadIDs).Delete(&Thread{}).Error; err != nil {
		return nil, err
	}
	return append(removed, voteKeys(VotableThread, threadIDs)...), nil
}

// CascadeDeleteComments deletes comments and the votes cast on them, and returns the
// removed vote target keys. Replies to the deleted comments are left in place and
// become orphans.
func CascadeDeleteComments(tx *gorm.DB, commentIDs []string) ([]entitystate.Key, error) {
	if len(commentIDs) == 0 {
		return nil, nil
	}
	if err := tx.Where("votable_type = ? AND votable_id IN ?", VotableComment, commentIDs).Delete(&Vote{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("id IN ?", commentIDs).Delete(&Comment{}).Error; err != nil {
		return nil, err
	}
	return voteKeys(VotableComment, commentIDs), nil
}

// GenresOfBooks loads the genres attached to each of the given books.
func GenresOfBooks(ctx context.Context, db *gorm.DB, bookIDs []string) (map[string][]Genre, error) {
	result := make(map[string][]Genre, len(bookIDs))
	if len(bookIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		BookID string
		ID     string
		Name   string
	}
	err := db.WithContext(ctx).
		Table("book_genres").
		Select("book_genres.book_id AS book_id, genres.id AS id, genres.name AS name").
		Joins("JOIN genres ON genres.id = book_genres.genre_id").
		Where("book_genres.book_id IN ?", bookIDs).
		Order("genres.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.BookID] = append(result[row.BookID], Genre{ID: row.ID, Name: row.Name})
	}
	return result, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("catalog service error", attrs...)
}
