package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/affinity"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/discussions"
	"github.com/bookthreads/bookthreads-api/internal/events"
	"github.com/bookthreads/bookthreads-api/internal/functions"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"github.com/bookthreads/bookthreads-api/internal/users"
	"github.com/bookthreads/bookthreads-api/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const genericGenerationFailure = "character generation is unavailable right now"

type genreResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bookResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Author    string          `json:"author"`
	CreatedBy string          `json:"createdBy"`
	CreatedAt int64           `json:"createdAt"`
	Genres    []genreResponse `json:"genres"`
}

type addBookRequest struct {
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	GenreIDs []string `json:"genreIds"`
}

type threadRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type commentRequest struct {
	Content         string `json:"content"`
	ParentCommentID string `json:"parentCommentId"`
}

type voteRequest struct {
	Value int `json:"value"`
}

type scheduleEventRequest struct {
	BookID  string `json:"bookId"`
	StartAt int64  `json:"startAt"`
	EndAt   int64  `json:"endAt"`
}

type generatedResponse struct {
	Character string              `json:"character"`
	Book      string              `json:"book,omitempty"`
	Reason    string              `json:"reason"`
	Fallback  bool                `json:"fallback"`
	Profile   *affinity.Character `json:"profile,omitempty"`
}

func newBookResponse(book catalog.Book, genres []catalog.Genre) bookResponse {
	response := bookResponse{
		ID:        book.ID,
		Title:     book.Title,
		Author:    book.Author,
		CreatedBy: book.CreatedBy,
		CreatedAt: book.CreatedAtSeconds,
		Genres:    make([]genreResponse, 0, len(genres)),
	}
	for _, genre := range genres {
		response.Genres = append(response.Genres, genreResponse{ID: genre.ID, Name: genre.Name})
	}
	return response
}

// entityParam validates the named path parameter, responding 400 when it is malformed.
func (h *httpHandler) entityParam(c *gin.Context, name string) (catalog.EntityID, bool) {
	id, err := catalog.NewEntityID(c.Param(name))
	if err != nil {
		h.respondError(c, errors.Join(serviceerror.ErrInvalidInput, err))
		return "", false
	}
	return id, true
}

func (h *httpHandler) userParam(c *gin.Context) (catalog.UserID, bool) {
	id, err := catalog.NewUserID(c.Param("id"))
	if err != nil {
		h.respondError(c, errors.Join(serviceerror.ErrInvalidInput, err))
		return "", false
	}
	return id, true
}

func (h *httpHandler) bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		h.respondError(c, errors.Join(serviceerror.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *httpHandler) listGenres(c *gin.Context) {
	genres, err := h.deps.Catalog.ListGenres(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]genreResponse, 0, len(genres))
	for _, genre := range genres {
		response = append(response, genreResponse{ID: genre.ID, Name: genre.Name})
	}
	c.JSON(http.StatusOK, gin.H{"genres": response})
}

func (h *httpHandler) addBook(c *gin.Context) {
	var request addBookRequest
	if !h.bindJSON(c, &request) {
		return
	}
	book, err := h.deps.Catalog.AddBook(c.Request.Context(), currentUser(c), catalog.NewBook{
		Title:    request.Title,
		Author:   request.Author,
		GenreIDs: request.GenreIDs,
	})
	if err != nil && book.ID != "" {
		// The book row exists without its genres.
		h.respondErrorWith(c, err, gin.H{"book": newBookResponse(book, nil)})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	details, err := h.deps.Catalog.GetBook(c.Request.Context(), catalog.EntityID(book.ID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBookResponse(details.Book, details.Genres))
}

func (h *httpHandler) getBook(c *gin.Context) {
	bookID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	details, err := h.deps.Catalog.GetBook(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookResponse(details.Book, details.Genres))
}

func (h *httpHandler) deleteBook(c *gin.Context) {
	bookID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Catalog.DeleteBook(c.Request.Context(), currentUser(c), bookID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) trendingBooks(c *gin.Context) {
	ranking, err := h.deps.Trending.Top(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": ranking.Books})
}

func (h *httpHandler) isFavorite(c *gin.Context) {
	bookID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	favorite, err := h.deps.Relations.IsFavorite(c.Request.Context(), currentUser(c), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": favorite})
}

func (h *httpHandler) toggleFavorite(c *gin.Context) {
	bookID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	favorite, err := h.deps.Relations.ToggleFavorite(c.Request.Context(), currentUser(c), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": favorite})
}

func (h *httpHandler) listThreads(c *gin.Context) {
	bookID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	threads, err := h.deps.Discussions.ListThreads(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (h *httpHandler) createThread(c *gin.Context) {
	bookID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	var request threadRequest
	if !h.bindJSON(c, &request) {
		return
	}
	thread, err := h.deps.Discussions.CreateThread(c.Request.Context(), currentUser(c), bookID, discussions.NewThread{
		Title:   request.Title,
		Content: request.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, discussions.ThreadView{
		ID:        thread.ID,
		BookID:    thread.BookID,
		Title:     thread.Title,
		Content:   thread.Content,
		AuthorID:  thread.CreatedBy,
		CreatedAt: thread.CreatedAtSeconds,
	})
}

func (h *httpHandler) commentTree(c *gin.Context) {
	threadID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	tree, err := h.deps.Discussions.CommentTree(c.Request.Context(), threadID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": tree, "total": discussions.CountNodes(tree)})
}

func (h *httpHandler) addComment(c *gin.Context) {
	threadID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	var request commentRequest
	if !h.bindJSON(c, &request) {
		return
	}
	comment, err := h.deps.Discussions.AddComment(c.Request.Context(), currentUser(c), threadID, discussions.NewComment{
		Content:         request.Content,
		ParentCommentID: request.ParentCommentID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, discussions.CommentNode{
		ID:              comment.ID,
		ThreadID:        comment.ThreadID,
		ParentCommentID: comment.ParentCommentID,
		AuthorID:        comment.CreatedBy,
		Content:         comment.Content,
		CreatedAt:       comment.CreatedAtSeconds,
		Replies:         []*discussions.CommentNode{},
	})
}

func (h *httpHandler) deleteComment(c *gin.Context) {
	commentID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Discussions.DeleteComment(c.Request.Context(), currentUser(c), commentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) tally(c *gin.Context) {
	target, err := votes.NewTarget(c.Param("type"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	tally, err := h.deps.Votes.Tally(c.Request.Context(), target, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (h *httpHandler) castVote(c *gin.Context) {
	target, err := votes.NewTarget(c.Param("type"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request voteRequest
	if !h.bindJSON(c, &request) {
		return
	}
	value, err := votes.ParseVoteValue(request.Value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	tally, err := h.deps.Votes.Cast(c.Request.Context(), target, currentUser(c), value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (h *httpHandler) isFollowing(c *gin.Context) {
	other, ok := h.userParam(c)
	if !ok {
		return
	}
	following, err := h.deps.Relations.IsFollowing(c.Request.Context(), currentUser(c), other)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": following})
}

func (h *httpHandler) toggleFollow(c *gin.Context) {
	other, ok := h.userParam(c)
	if !ok {
		return
	}
	following, err := h.deps.Relations.ToggleFollow(c.Request.Context(), currentUser(c), other)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": following})
}

func (h *httpHandler) listFollowers(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}
	followers, err := h.deps.Relations.ListFollowers(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": followers})
}

func (h *httpHandler) listFollowing(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}
	following, err := h.deps.Relations.ListFollowing(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": following})
}

func (h *httpHandler) profile(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}
	profile, err := h.deps.Users.Profile(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) updateProfile(c *gin.Context) {
	var update users.ProfileUpdate
	if !h.bindJSON(c, &update) {
		return
	}
	profile, err := h.deps.Users.UpdateProfile(c.Request.Context(), currentUser(c), update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) badge(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}
	badge, err := h.deps.Engagement.Badge(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, badge)
}

func (h *httpHandler) character(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}
	match, err := h.deps.Affinity.Match(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

func (h *httpHandler) characterCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"characters": affinity.Catalog()})
}

func (h *httpHandler) compatibility(c *gin.Context) {
	other, ok := h.userParam(c)
	if !ok {
		return
	}
	result, err := h.deps.Compatibility.Compare(c.Request.Context(), currentUser(c), other)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// generateCharacter asks the remote generator for a character and falls back to the
// balanced reader when it is unavailable.
func (h *httpHandler) generateCharacter(c *gin.Context) {
	user := currentUser(c)
	if user.Anonymous() {
		h.respondError(c, serviceerror.ErrAuthenticationRequired)
		return
	}
	message := genericGenerationFailure
	if h.deps.Characters != nil {
		generated, err := h.deps.Characters.GenerateCharacter(c.Request.Context(), c.GetString(accessTokenContextKey))
		if err == nil {
			c.JSON(http.StatusOK, generatedResponse{
				Character: generated.Character,
				Book:      generated.Book,
				Reason:    generated.Reason,
			})
			return
		}
		h.logger.Warn("character generation fell back", zap.String("user_id", user.String()), zap.Error(err))
		if remote := remoteMessage(err); remote != "" {
			message = remote
		}
	}
	balanced := affinity.BalancedReader()
	c.JSON(http.StatusOK, generatedResponse{
		Character: balanced.Name,
		Reason:    message,
		Fallback:  true,
		Profile:   &balanced,
	})
}

func (h *httpHandler) deleteAccount(c *gin.Context) {
	result, err := h.deps.Users.DeleteAccount(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) activeEvents(c *gin.Context) {
	active, err := h.deps.Events.ListActive(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": active})
}

func (h *httpHandler) scheduleEvent(c *gin.Context) {
	var request scheduleEventRequest
	if !h.bindJSON(c, &request) {
		return
	}
	bookID, err := catalog.NewEntityID(request.BookID)
	if err != nil {
		h.respondError(c, errors.Join(serviceerror.ErrInvalidInput, err))
		return
	}
	event, err := h.deps.Events.Schedule(c.Request.Context(), currentUser(c), events.NewEvent{
		BookID: bookID,
		Start:  time.Unix(request.StartAt, 0).UTC(),
		End:    time.Unix(request.EndAt, 0).UTC(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      event.ID,
		"bookId":  event.BookID,
		"startAt": event.StartAtSeconds,
		"endAt":   event.EndAtSeconds,
	})
}

func (h *httpHandler) toggleParticipation(c *gin.Context) {
	eventID, ok := h.entityParam(c, "id")
	if !ok {
		return
	}
	joined, err := h.deps.Events.ToggleParticipation(c.Request.Context(), currentUser(c), eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": joined})
}

func remoteMessage(err error) string {
	var remote *functions.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return ""
}
