// Package functions calls the remote BookThreads functions (character generation)
// behind a circuit breaker.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	functionGenerateCharacter = "generate-character"
	breakerName               = "functions"
	defaultTimeout            = 15 * time.Second
	defaultFailureThreshold   = 5
	defaultOpenTimeout        = 30 * time.Second
	maxResponseBytes          = 1 << 20
)

var (
	// ErrNotConfigured reports a client without a function URL.
	ErrNotConfigured = errors.New("functions: character url not configured")
	// ErrMissingAccessToken reports a call without the caller's session token.
	ErrMissingAccessToken = errors.New("functions: access token required")
)

// RemoteError is a non-2xx answer from a remote function.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("functions: remote returned status %d", e.Status)
	}
	return fmt.Sprintf("functions: remote returned status %d: %s", e.Status, e.Message)
}

// Generated is a character suggested by the remote generator.
type Generated struct {
	Character string `json:"character"`
	Book      string `json:"book"`
	Reason    string `json:"reason"`
}

// ClientConfig configures the remote function client.
type ClientConfig struct {
	CharacterURL     string
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HTTPClient       *http.Client
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
}

// Client invokes remote functions.
type Client struct {
	characterURL string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker[Generated]
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewClient builds a Client. An empty CharacterURL yields a client whose calls fail
// with ErrNotConfigured.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{
		characterURL: strings.TrimSpace(cfg.CharacterURL),
		httpClient:   httpClient,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
	client.metrics.SetBreakerState(breakerName, int(gobreaker.StateClosed))
	client.breaker = gobreaker.NewCircuitBreaker[Generated](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var remote *RemoteError
			if errors.As(err, &remote) {
				return remote.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			client.metrics.SetBreakerState(name, int(to))
		},
	})
	return client
}

// GenerateCharacter asks the remote generator for a character on behalf of the
// caller identified by accessToken.
func (c *Client) GenerateCharacter(ctx context.Context, accessToken string) (Generated, error) {
	if c.characterURL == "" {
		return Generated{}, ErrNotConfigured
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return Generated{}, ErrMissingAccessToken
	}
	generated, err := c.breaker.Execute(func() (Generated, error) {
		return c.postCharacter(ctx, token)
	})
	c.metrics.ObserveRemoteCall(functionGenerateCharacter, err)
	if err != nil {
		c.logger.Warn("remote function failed",
			zap.String("function", functionGenerateCharacter),
			zap.Error(err),
		)
		return Generated{}, err
	}
	return generated, nil
}

func (c *Client) postCharacter(ctx context.Context, token string) (Generated, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.characterURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Generated{}, err
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Generated{}, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return Generated{}, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &failure)
		return Generated{}, &RemoteError{Status: response.StatusCode, Message: strings.TrimSpace(failure.Error)}
	}
	var generated Generated
	if err := json.Unmarshal(body, &generated); err != nil {
		return Generated{}, fmt.Errorf("functions: decode response: %w", err)
	}
	if strings.TrimSpace(generated.Character) == "" {
		return Generated{}, errors.New("functions: response carried no character")
	}
	return generated, nil
}
