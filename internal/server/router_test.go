package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/affinity"
	"github.com/bookthreads/bookthreads-api/internal/auth"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/database"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/functions"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "router-secret"
	testIssuer        = "bookthreads-auth"
	testCookieName    = "bt_session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGenerator struct {
	generated functions.Generated
	err       error
	token     string
}

func (s *stubGenerator) GenerateCharacter(_ context.Context, accessToken string) (functions.Generated, error) {
	s.token = accessToken
	return s.generated, s.err
}

type apiFixture struct {
	db      *gorm.DB
	handler http.Handler
	issuer  *auth.TokenIssuer
	metrics *metrics.Metrics
}

func newAPIFixture(t *testing.T, adjust func(*Dependencies)) *apiFixture {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), zap.NewNop())
	require.NoError(t, err)
	registry := metrics.New()
	deps, err := NewServiceSet(ServiceSetConfig{
		Database: db,
		State:    entitystate.New(entitystate.Config{TTL: time.Minute}),
		Metrics:  registry,
	})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer})
	require.NoError(t, err)

	deps.Sessions = validator
	deps.WriteRateLimit = rate.Inf
	deps.StreamHeartbeat = time.Hour
	if adjust != nil {
		adjust(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	require.NoError(t, err)
	return &apiFixture{db: db, handler: handler, issuer: issuer, metrics: registry}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.Issue(auth.SessionIdentity{UserID: userID})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &value), recorder.Body.String())
	return value
}

func (f *apiFixture) addBook(t *testing.T, token string) string {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/books", token, addBookRequest{Title: "The Hobbit", Author: "Tolkien", GenreIDs: []string{"fantasy"}})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	return decode[bookResponse](t, recorder).ID
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHTTPHandler(Dependencies{})
	require.ErrorIs(t, err, errMissingSessionValidator)
}

func TestHealthAndMetrics(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	assert.Equal(t, http.StatusOK, fixture.do(t, http.MethodGet, "/healthz", "", nil).Code)

	recorder := fixture.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `bookthreads_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestAuthenticationMapping(t *testing.T) {
	fixture := newAPIFixture(t, nil)

	anonymous := fixture.do(t, http.MethodPost, "/books", "", addBookRequest{Title: "t", Author: "a"})
	require.Equal(t, http.StatusUnauthorized, anonymous.Code)
	assert.Equal(t, "authentication_required", decode[map[string]any](t, anonymous)["error"])

	forged := fixture.do(t, http.MethodGet, "/genres", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, forged.Code)
	assert.Equal(t, "invalid_session", decode[map[string]any](t, forged)["error"])

	genres := fixture.do(t, http.MethodGet, "/genres", "", nil)
	require.Equal(t, http.StatusOK, genres.Code)
	assert.Len(t, decode[map[string][]genreResponse](t, genres)["genres"], 12)
}

func TestSessionCookieIsAccepted(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	request := httptest.NewRequest(http.MethodPatch, "/me/profile", strings.NewReader(`{"username":"Ada"}`))
	request.Header.Set("Content-Type", "application/json")
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: fixture.token(t, "ada")})
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "Ada", decode[map[string]any](t, recorder)["username"])
}

func TestAddBookGenreLinkFailureReturnsCreatedBook(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	err := fixture.db.Callback().Create().Before("gorm:create").Register("test:reject_genre_links", func(tx *gorm.DB) {
		if tx.Statement.Table == "book_genres" {
			_ = tx.AddError(errors.New("link insert rejected"))
		}
	})
	require.NoError(t, err)

	recorder := fixture.do(t, http.MethodPost, "/books", fixture.token(t, "alice"),
		addBookRequest{Title: "Dune", Author: "Herbert", GenreIDs: []string{"fantasy"}})
	require.Equal(t, http.StatusInternalServerError, recorder.Code, recorder.Body.String())
	body := decode[struct {
		Error string       `json:"error"`
		Code  string       `json:"code"`
		Book  bookResponse `json:"book"`
	}](t, recorder)
	assert.Equal(t, "internal_error", body.Error)
	assert.Equal(t, "catalog.add_book.genre_link_failed", body.Code)
	require.NotEmpty(t, body.Book.ID)
	assert.Empty(t, body.Book.Genres)

	var stored catalog.Book
	require.NoError(t, fixture.db.Where("id = ?", body.Book.ID).Take(&stored).Error)
	assert.Equal(t, "Dune", stored.Title)
}

func TestBookVotingAndTrending(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	alice, bob := fixture.token(t, "alice"), fixture.token(t, "bob")
	bookID := fixture.addBook(t, alice)

	book := decode[bookResponse](t, fixture.do(t, http.MethodGet, "/books/"+bookID, "", nil))
	require.Len(t, book.Genres, 1)
	assert.Equal(t, "Fantasy", book.Genres[0].Name)

	cast := fixture.do(t, http.MethodPost, "/votes/book/"+bookID, bob, voteRequest{Value: 1})
	require.Equal(t, http.StatusOK, cast.Code, cast.Body.String())
	assert.Equal(t, map[string]any{"score": float64(1), "userValue": float64(1)}, decode[map[string]any](t, cast))

	anonymous := decode[map[string]any](t, fixture.do(t, http.MethodGet, "/votes/book/"+bookID, "", nil))
	assert.Equal(t, map[string]any{"score": float64(1), "userValue": float64(0)}, anonymous)

	invalid := fixture.do(t, http.MethodPost, "/votes/shelf/"+bookID, bob, voteRequest{Value: 1})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	invalidValue := fixture.do(t, http.MethodPost, "/votes/book/"+bookID, bob, voteRequest{Value: 3})
	assert.Equal(t, http.StatusBadRequest, invalidValue.Code)

	trending := decode[map[string][]map[string]any](t, fixture.do(t, http.MethodGet, "/books/trending", "", nil))
	require.Len(t, trending["books"], 1)
	assert.Equal(t, bookID, trending["books"][0]["id"])

	assert.Equal(t, http.StatusForbidden, fixture.do(t, http.MethodDelete, "/books/"+bookID, bob, nil).Code)
	assert.Equal(t, http.StatusNoContent, fixture.do(t, http.MethodDelete, "/books/"+bookID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, fixture.do(t, http.MethodGet, "/books/"+bookID, "", nil).Code)
}

func TestFollowSelfIsRejected(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	alice := fixture.token(t, "alice")
	recorder := fixture.do(t, http.MethodPost, "/users/alice/follow", alice, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decode[map[string]any](t, recorder)
	assert.Equal(t, "self_action", body["error"])
	assert.Equal(t, "you cannot follow yourself", body["message"])

	fixture.do(t, http.MethodGet, "/genres", fixture.token(t, "bob"), nil)
	followed := fixture.do(t, http.MethodPost, "/users/bob/follow", alice, nil)
	require.Equal(t, http.StatusOK, followed.Code, followed.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, followed)["following"])

	profile := decode[map[string]any](t, fixture.do(t, http.MethodGet, "/users/bob/profile", "", nil))
	assert.Equal(t, float64(1), profile["followerCount"])

	match := fixture.do(t, http.MethodGet, "/users/alice/compatibility", alice, nil)
	assert.Equal(t, http.StatusBadRequest, match.Code)
	assert.Equal(t, "you cannot match with yourself", decode[map[string]any](t, match)["message"])
}

func TestDiscussionFlow(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	alice, bob := fixture.token(t, "alice"), fixture.token(t, "bob")
	bookID := fixture.addBook(t, alice)

	thread := fixture.do(t, http.MethodPost, "/books/"+bookID+"/threads", alice, threadRequest{Title: "Chapter 1", Content: "Thoughts?"})
	require.Equal(t, http.StatusCreated, thread.Code, thread.Body.String())
	threadID := decode[map[string]any](t, thread)["id"].(string)

	root := fixture.do(t, http.MethodPost, "/threads/"+threadID+"/comments", bob, commentRequest{Content: "Loved it"})
	require.Equal(t, http.StatusCreated, root.Code, root.Body.String())
	rootID := decode[map[string]any](t, root)["id"].(string)
	reply := fixture.do(t, http.MethodPost, "/threads/"+threadID+"/comments", alice, commentRequest{Content: "Same", ParentCommentID: rootID})
	require.Equal(t, http.StatusCreated, reply.Code, reply.Body.String())

	tree := decode[map[string]any](t, fixture.do(t, http.MethodGet, "/threads/"+threadID+"/comments", "", nil))
	assert.Equal(t, float64(2), tree["total"])

	threads := decode[map[string][]map[string]any](t, fixture.do(t, http.MethodGet, "/books/"+bookID+"/threads", "", nil))
	require.Len(t, threads["threads"], 1)
	assert.Equal(t, float64(2), threads["threads"][0]["commentCount"])

	assert.Equal(t, http.StatusForbidden, fixture.do(t, http.MethodDelete, "/comments/"+rootID, alice, nil).Code)
	assert.Equal(t, http.StatusNoContent, fixture.do(t, http.MethodDelete, "/comments/"+rootID, bob, nil).Code)
}

func TestGenerateCharacterFallsBack(t *testing.T) {
	generator := &stubGenerator{err: &functions.RemoteError{Status: http.StatusBadGateway, Message: "model offline"}}
	fixture := newAPIFixture(t, func(deps *Dependencies) { deps.Characters = generator })
	alice := fixture.token(t, "alice")

	recorder := fixture.do(t, http.MethodPost, "/me/character/generate", alice, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decode[generatedResponse](t, recorder)
	assert.True(t, body.Fallback)
	assert.Equal(t, "model offline", body.Reason)
	assert.Equal(t, affinity.BalancedReader().Name, body.Character)
	assert.Equal(t, alice, generator.token)

	generator.err = nil
	generator.generated = functions.Generated{Character: "Gandalf", Book: "The Hobbit", Reason: "wise"}
	success := decode[generatedResponse](t, fixture.do(t, http.MethodPost, "/me/character/generate", alice, nil))
	assert.False(t, success.Fallback)
	assert.Equal(t, "Gandalf", success.Character)

	assert.Equal(t, http.StatusUnauthorized, fixture.do(t, http.MethodPost, "/me/character/generate", "", nil).Code)
}

func TestWritesAreRateLimitedPerClient(t *testing.T) {
	fixture := newAPIFixture(t, func(deps *Dependencies) {
		deps.WriteRateLimit = rate.Limit(0.001)
		deps.WriteBurst = 2
	})
	alice, bob := fixture.token(t, "alice"), fixture.token(t, "bob")
	for attempt := 0; attempt < 2; attempt++ {
		assert.NotEqual(t, http.StatusTooManyRequests, fixture.do(t, http.MethodPatch, "/me/profile", alice, map[string]string{"bio": "hi"}).Code)
	}
	limited := fixture.do(t, http.MethodPatch, "/me/profile", alice, map[string]string{"bio": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, http.StatusOK, fixture.do(t, http.MethodPatch, "/me/profile", bob, map[string]string{"bio": "hi"}).Code)
	assert.Equal(t, http.StatusOK, fixture.do(t, http.MethodGet, "/users/alice/profile", alice, nil).Code)
}

func TestDeleteAccount(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	alice := fixture.token(t, "alice")
	fixture.addBook(t, alice)

	recorder := fixture.do(t, http.MethodDelete, "/me", alice, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "account deleted", decode[map[string]any](t, recorder)["message"])

	badge := decode[map[string]any](t, fixture.do(t, http.MethodGet, "/users/alice/badge", "", nil))
	assert.Equal(t, float64(0), badge["booksAdded"])
}

func TestStreamDeliversScoreUpdates(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	alice, bob := fixture.token(t, "alice"), fixture.token(t, "bob")
	bookID := fixture.addBook(t, alice)

	server := httptest.NewServer(fixture.handler)
	defer server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/stream?entity=book:"+bookID, http.NoBody)
	require.NoError(t, err)
	response, err := server.Client().Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)
	reader := bufio.NewReader(response.Body)

	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, _ := readEvent()
	require.Equal(t, streamEventConnected, event)

	voteRequestBody := strings.NewReader(`{"value":1}`)
	voteCall, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/votes/book/"+bookID, voteRequestBody)
	require.NoError(t, err)
	voteCall.Header.Set("Authorization", "Bearer "+bob)
	voteCall.Header.Set("Content-Type", "application/json")
	voteResponse, err := server.Client().Do(voteCall)
	require.NoError(t, err)
	voteResponse.Body.Close()
	require.Equal(t, http.StatusOK, voteResponse.StatusCode)

	event, data := readEvent()
	require.Equal(t, entitystate.KindScore, event)
	var message streamMessage
	require.NoError(t, json.Unmarshal([]byte(data), &message))
	assert.Equal(t, "book:"+bookID, message.Entity)
	assert.Equal(t, float64(1), message.Payload)

	invalid := fixture.do(t, http.MethodGet, "/stream?entity=nonsense", "", nil)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}
