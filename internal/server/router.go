// Package server exposes the BookThreads services over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/affinity"
	"github.com/bookthreads/bookthreads-api/internal/auth"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/compatibility"
	"github.com/bookthreads/bookthreads-api/internal/discussions"
	"github.com/bookthreads/bookthreads-api/internal/engagement"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/events"
	"github.com/bookthreads/bookthreads-api/internal/functions"
	"github.com/bookthreads/bookthreads-api/internal/logging"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/relations"
	"github.com/bookthreads/bookthreads-api/internal/trending"
	"github.com/bookthreads/bookthreads-api/internal/users"
	"github.com/bookthreads/bookthreads-api/internal/votes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	userIDContextKey      = "bookthreads_user_id"
	accessTokenContextKey = "bookthreads_access_token"
	defaultHeartbeat      = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingService          = errors.New("service dependencies required")
)

// SessionValidator authenticates a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// CharacterGenerator produces a character through a remote function.
type CharacterGenerator interface {
	GenerateCharacter(ctx context.Context, accessToken string) (functions.Generated, error)
}

// Dependencies lists everything the HTTP layer calls into.
type Dependencies struct {
	Sessions      SessionValidator
	Users         *users.Service
	Catalog       *catalog.Service
	Votes         *votes.Service
	Relations     *relations.Service
	Engagement    *engagement.Service
	Trending      *trending.Service
	Affinity      *affinity.Service
	Compatibility *compatibility.Service
	Discussions   *discussions.Service
	Events        *events.Service
	State         *entitystate.State
	Characters    CharacterGenerator
	Metrics       *metrics.Metrics
	Logger        *zap.Logger

	AllowedOrigins  []string
	WriteRateLimit  rate.Limit
	WriteBurst      int
	StreamHeartbeat time.Duration
}

// NewHTTPHandler assembles the gin engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Catalog == nil || deps.Votes == nil || deps.Relations == nil || deps.Engagement == nil ||
		deps.Trending == nil || deps.Affinity == nil || deps.Compatibility == nil ||
		deps.Discussions == nil || deps.Events == nil || deps.State == nil {
		return nil, errMissingService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(observeRequests(deps.Metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", logging.RequestIDHeader},
		ExposeHeaders:    []string{logging.RequestIDHeader},
		AllowCredentials: len(deps.AllowedOrigins) > 0,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{deps: deps, logger: logger, heartbeat: heartbeat}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/")
	api.Use(handler.authenticate)
	api.Use(limitWrites(newClientLimiters(deps.WriteRateLimit, deps.WriteBurst)))

	api.GET("/genres", handler.listGenres)
	api.POST("/books", handler.addBook)
	api.GET("/books/trending", handler.trendingBooks)
	api.GET("/books/:id", handler.getBook)
	api.DELETE("/books/:id", handler.deleteBook)
	api.GET("/books/:id/favorite", handler.isFavorite)
	api.POST("/books/:id/favorite", handler.toggleFavorite)
	api.GET("/books/:id/threads", handler.listThreads)
	api.POST("/books/:id/threads", handler.createThread)
	api.GET("/threads/:id/comments", handler.commentTree)
	api.POST("/threads/:id/comments", handler.addComment)
	api.DELETE("/comments/:id", handler.deleteComment)
	api.GET("/votes/:type/:id", handler.tally)
	api.POST("/votes/:type/:id", handler.castVote)
	api.GET("/users/:id/follow", handler.isFollowing)
	api.POST("/users/:id/follow", handler.toggleFollow)
	api.GET("/users/:id/followers", handler.listFollowers)
	api.GET("/users/:id/following", handler.listFollowing)
	api.GET("/users/:id/profile", handler.profile)
	api.GET("/users/:id/badge", handler.badge)
	api.GET("/users/:id/character", handler.character)
	api.GET("/users/:id/compatibility", handler.compatibility)
	api.GET("/characters", handler.characterCatalog)
	api.PATCH("/me/profile", handler.updateProfile)
	api.POST("/me/character/generate", handler.generateCharacter)
	api.DELETE("/me", handler.deleteAccount)
	api.GET("/events/active", handler.activeEvents)
	api.POST("/events", handler.scheduleEvent)
	api.POST("/events/:id/participation", handler.toggleParticipation)
	api.GET("/stream", handler.stream)

	return router, nil
}

type httpHandler struct {
	deps      Dependencies
	logger    *zap.Logger
	heartbeat time.Duration
}

// authenticate resolves the session when one is presented. Requests without a
// session continue anonymously; a presented but invalid session is rejected.
func (h *httpHandler) authenticate(c *gin.Context) {
	claims, err := h.deps.Sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.Next()
		return
	}
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session"})
		return
	}
	userID, err := h.deps.Users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session"})
		return
	}
	c.Set(userIDContextKey, userID.String())
	c.Set(accessTokenContextKey, sessionToken(c.Request, h.deps.Sessions.CookieName()))
	c.Next()
}

func currentUser(c *gin.Context) catalog.UserID {
	return catalog.UserID(c.GetString(userIDContextKey))
}
