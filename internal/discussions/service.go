// Package discussions owns threads and their nested comments.
package discussions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew     = "discussions.service.new"
	opCreateThread   = "discussions.create_thread"
	opListThreads    = "discussions.list_threads"
	opAddComment     = "discussions.add_comment"
	opDeleteComment  = "discussions.delete_comment"
	opCommentTree    = "discussions.comment_tree"
	maxTitleRunes    = 512
	maxContentRunes  = 20000
	reasonMissingDB  = "missing_database"
	reasonMissingIDs = "missing_id_provider"
	reasonAnonymous  = "anonymous"
	reasonInvalid    = "invalid_input"
	reasonNotFound   = "not_found"
	reasonParent     = "parent_not_in_thread"
	reasonForbidden  = "forbidden"
	reasonIDFailed   = "id_generation_failed"
	reasonQuery      = "query_failed"
	reasonWrite      = "write_failed"
)

// ErrParentNotInThread rejects a reply to a comment of another thread or a missing comment.
var ErrParentNotInThread = fmt.Errorf("%w: parent comment must belong to the same thread", serviceerror.ErrInvalidInput)

// NewThread is the caller input for CreateThread.
type NewThread struct {
	Title   string
	Content string
}

// NewComment is the caller input for AddComment. An empty ParentCommentID starts a root comment.
type NewComment struct {
	Content         string
	ParentCommentID string
}

// ThreadView is a thread with its author's name and comment count. CommentCount counts
// every stored comment of the thread, including replies left orphaned by a deleted parent.
type ThreadView struct {
	ID           string `json:"id"`
	BookID       string `json:"bookId"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	AuthorID     string `json:"authorId"`
	AuthorName   string `json:"authorName"`
	CommentCount int64  `json:"commentCount"`
	CreatedAt    int64  `json:"createdAt"`
}

// ServiceConfig describes the dependencies of the discussion service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider catalog.IDProvider
	State      *entitystate.State
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service manages threads and comments.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider catalog.IDProvider
	state      *entitystate.State
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
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, state: cfg.State, metrics: cfg.Metrics, logger: logger}, nil
}

// CreateThread starts a discussion about book.
func (s *Service) CreateThread(ctx context.Context, author catalog.UserID, book catalog.EntityID, input NewThread) (catalog.Thread, error) {
	if author.Anonymous() {
		return catalog.Thread{}, serviceerror.New(opCreateThread, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" || tooLong(title, maxTitleRunes) || tooLong(content, maxContentRunes) {
		return catalog.Thread{}, serviceerror.New(opCreateThread, reasonInvalid,
			fmt.Errorf("%w: thread title and content are required", serviceerror.ErrInvalidInput))
	}
	if err := s.requireRow(ctx, opCreateThread, &catalog.Book{}, book.String()); err != nil {
		return catalog.Thread{}, err
	}
	threadID, err := s.idProvider.NewID()
	if err != nil {
		return catalog.Thread{}, s.fail(opCreateThread, reasonIDFailed, err)
	}
	thread := catalog.Thread{
		ID:               threadID,
		BookID:           book.String(),
		CreatedBy:        author.String(),
		Title:            title,
		Content:          content,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Create(&thread).Error
	s.metrics.ObserveWrite(opCreateThread, err)
	if err != nil {
		return catalog.Thread{}, s.fail(opCreateThread, reasonWrite, err)
	}
	return thread, nil
}

// ListThreads returns book's threads, newest first.
func (s *Service) ListThreads(ctx context.Context, book catalog.EntityID) ([]ThreadView, error) {
	db := s.db.WithContext(ctx)
	var threads []catalog.Thread
	if err := db.Where("book_id = ?", book.String()).Order("created_at_s DESC").Order("id ASC").Find(&threads).Error; err != nil {
		return nil, s.fail(opListThreads, reasonQuery, err)
	}
	views := make([]ThreadView, 0, len(threads))
	if len(threads) == 0 {
		return views, nil
	}

	threadIDs := make([]string, 0, len(threads))
	authorIDs := make([]string, 0, len(threads))
	for _, thread := range threads {
		threadIDs = append(threadIDs, thread.ID)
		authorIDs = append(authorIDs, thread.CreatedBy)
	}
	var counts []struct {
		ThreadID string
		Total    int64
	}
	err := db.Model(&catalog.Comment{}).
		Select("thread_id, COUNT(*) AS total").
		Where("thread_id IN ?", threadIDs).
		Group("thread_id").
		Scan(&counts).Error
	if err != nil {
		return nil, s.fail(opListThreads, reasonQuery, err)
	}
	commentCounts := make(map[string]int64, len(counts))
	for _, count := range counts {
		commentCounts[count.ThreadID] = count.Total
	}
	names, err := catalog.DisplayNames(ctx, s.db, authorIDs)
	if err != nil {
		return nil, s.fail(opListThreads, reasonQuery, err)
	}

	for _, thread := range threads {
		name := names[thread.CreatedBy]
		if name == "" {
			name = UnknownAuthor
		}
		views = append(views, ThreadView{
			ID:           thread.ID,
			BookID:       thread.BookID,
			Title:        thread.Title,
			Content:      thread.Content,
			AuthorID:     thread.CreatedBy,
			AuthorName:   name,
			CommentCount: commentCounts[thread.ID],
			CreatedAt:    thread.CreatedAtSeconds,
		})
	}
	return views, nil
}

// AddComment posts a comment on thread, optionally replying to another comment of the same thread.
func (s *Service) AddComment(ctx context.Context, author catalog.UserID, thread catalog.EntityID, input NewComment) (catalog.Comment, error) {
	if author.Anonymous() {
		return catalog.Comment{}, serviceerror.New(opAddComment, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" || tooLong(content, maxContentRunes) {
		return catalog.Comment{}, serviceerror.New(opAddComment, reasonInvalid,
			fmt.Errorf("%w: comment content is required", serviceerror.ErrInvalidInput))
	}
	if err := s.requireRow(ctx, opAddComment, &catalog.Thread{}, thread.String()); err != nil {
		return catalog.Comment{}, err
	}

	var parentID *string
	if trimmed := strings.TrimSpace(input.ParentCommentID); trimmed != "" {
		var count int64
		err := s.db.WithContext(ctx).Model(&catalog.Comment{}).
			Where("id = ? AND thread_id = ?", trimmed, thread.String()).
			Count(&count).Error
		if err != nil {
			return catalog.Comment{}, s.fail(opAddComment, reasonQuery, err)
		}
		if count == 0 {
			return catalog.Comment{}, serviceerror.New(opAddComment, reasonParent, ErrParentNotInThread)
		}
		parentID = &trimmed
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		return catalog.Comment{}, s.fail(opAddComment, reasonIDFailed, err)
	}
	comment := catalog.Comment{
		ID:               commentID,
		ThreadID:         thread.String(),
		ParentCommentID:  parentID,
		CreatedBy:        author.String(),
		Content:          content,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Create(&comment).Error
	s.metrics.ObserveWrite(opAddComment, err)
	if err != nil {
		return catalog.Comment{}, s.fail(opAddComment, reasonWrite, err)
	}
	return comment, nil
}

// DeleteComment removes a comment written by actor and the votes on it. Its replies stay
// in the store and drop out of the rendered tree.
func (s *Service) DeleteComment(ctx context.Context, actor catalog.UserID, commentID catalog.EntityID) error {
	if actor.Anonymous() {
		return serviceerror.New(opDeleteComment, reasonAnonymous, serviceerror.ErrAuthenticationRequired)
	}
	var removed []entitystate.Key
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment catalog.Comment
		err := tx.Where("id = ?", commentID.String()).Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return serviceerror.New(opDeleteComment, reasonNotFound, serviceerror.ErrNotFound)
		}
		if err != nil {
			return s.fail(opDeleteComment, reasonQuery, err)
		}
		if comment.CreatedBy != actor.String() {
			return serviceerror.New(opDeleteComment, reasonForbidden, serviceerror.ErrForbidden)
		}
		keys, err := catalog.CascadeDeleteComments(tx, []string{comment.ID})
		if err != nil {
			return s.fail(opDeleteComment, reasonWrite, err)
		}
		removed = keys
		return nil
	})
	s.metrics.ObserveWrite(opDeleteComment, err)
	if err != nil {
		return err
	}
	s.state.Discard(ctx, removed...)
	return nil
}

// CommentTree loads thread's comments oldest first and builds the reply forest.
func (s *Service) CommentTree(ctx context.Context, thread catalog.EntityID) ([]*CommentNode, error) {
	started := time.Now()
	defer s.metrics.ObserveAggregation(opCommentTree, started)

	var rows []catalog.Comment
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", thread.String()).
		Order("created_at_s ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, s.fail(opCommentTree, reasonQuery, err)
	}
	authorIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		authorIDs = append(authorIDs, row.CreatedBy)
	}
	names, err := catalog.DisplayNames(ctx, s.db, authorIDs)
	if err != nil {
		return nil, s.fail(opCommentTree, reasonQuery, err)
	}
	return BuildTree(rows, names), nil
}

func (s *Service) requireRow(ctx context.Context, operation string, model any, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return s.fail(operation, reasonQuery, err)
	}
	if count == 0 {
		return serviceerror.New(operation, reasonNotFound, serviceerror.ErrNotFound)
	}
	return nil
}

func (s *Service) fail(operation, reason string, err error) error {
	s.logger.Error("discussions service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return serviceerror.New(operation, reason, err)
}

func tooLong(value string, limit int) bool {
	return len([]rune(value)) > limit
}
