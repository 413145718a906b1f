package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "bookthreads-auth"
	testSessionCookieName    = "bt_session"
	testSessionUserID        = "reader-123"
)

var testClockNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         func() time.Time { return testClockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(issuedAt time.Time, ttl time.Duration) SessionClaims {
	return SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
}

func TestNewSessionValidatorRequiresSettings(t *testing.T) {
	testCases := []struct {
		name     string
		config   SessionValidatorConfig
		expected error
	}{
		{name: "secret", config: SessionValidatorConfig{Issuer: "i", CookieName: "c"}, expected: ErrMissingSessionSigningKey},
		{name: "issuer", config: SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}, expected: ErrMissingSessionIssuer},
		{name: "cookie", config: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"}, expected: ErrMissingSessionCookieName},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewSessionValidator(testCase.config); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	validator := newTestValidator(t)
	signed := signTestToken(t, validClaims(testClockNow.Add(-time.Minute), time.Hour), testSessionSigningSecret)

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	validator := newTestValidator(t)

	expired := signTestToken(t, validClaims(testClockNow.Add(-2*time.Hour), time.Hour), testSessionSigningSecret)
	if _, err := validator.ValidateToken(expired); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	forged := signTestToken(t, validClaims(testClockNow, time.Hour), "other-secret")
	if _, err := validator.ValidateToken(forged); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}

	foreign := validClaims(testClockNow, time.Hour)
	foreign.Issuer = "someone-else"
	if _, err := validator.ValidateToken(signTestToken(t, foreign, testSessionSigningSecret)); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected issuer mismatch to be rejected, got %v", err)
	}

	if _, err := validator.ValidateToken("   "); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	validator := newTestValidator(t)
	signed := signTestToken(t, validClaims(testClockNow, time.Hour), testSessionSigningSecret)

	bearerRequest := httptest.NewRequest(http.MethodGet, "/books/trending", http.NoBody)
	bearerRequest.Header.Set("Authorization", "Bearer "+signed)
	if claims, err := validator.ValidateRequest(bearerRequest); err != nil || claims.UserID != testSessionUserID {
		t.Fatalf("bearer validation failed: %v", err)
	}

	cookieRequest := httptest.NewRequest(http.MethodGet, "/books/trending", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
	if claims, err := validator.ValidateRequest(cookieRequest); err != nil || claims.UserID != testSessionUserID {
		t.Fatalf("cookie validation failed: %v", err)
	}

	basicRequest := httptest.NewRequest(http.MethodGet, "/books/trending", http.NoBody)
	basicRequest.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(basicRequest); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected unsupported scheme to be rejected, got %v", err)
	}

	anonymousRequest := httptest.NewRequest(http.MethodGet, "/books/trending", http.NoBody)
	if _, err := validator.ValidateRequest(anonymousRequest); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}
