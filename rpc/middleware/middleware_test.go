package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 2})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("rpc")(okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	require.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	rejected := send("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rejected.Code)
	require.Contains(t, rejected.Body.String(), "-32020")
	require.Equal(t, http.StatusOK, send("10.0.0.2").Code)

	now = now.Add(time.Minute)
	require.Equal(t, http.StatusOK, send("10.0.0.1").Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	handler := NewRateLimiter(RateLimit{}).Middleware("rpc")(okHandler)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	require.Equal(t, "192.0.2.1", ClientID(req))
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	require.Equal(t, "198.51.100.7", ClientID(req))
}

func TestObservabilityAssignsRequestID(t *testing.T) {
	obs := NewObservability("test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	var seen string
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	supplied := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(RequestIDHeader, supplied)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, supplied, seen)
}

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestAuthenticator(t *testing.T) {
	secret := []byte("leverage-secret")
	auth := NewAuthenticator(secret, "leveraged")
	exp := time.Now().Add(time.Hour).Unix()

	subject, err := auth.Verify("Bearer " + signToken(t, secret, jwt.MapClaims{"iss": "leveraged", "sub": "0xabc", "exp": exp}))
	require.NoError(t, err)
	require.Equal(t, "0xabc", subject)

	_, err = auth.Verify("")
	require.ErrorIs(t, err, ErrMissingBearer)
	_, err = auth.Verify("Bearer " + signToken(t, []byte("other"), jwt.MapClaims{"iss": "leveraged", "exp": exp}))
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = auth.Verify("Bearer " + signToken(t, secret, jwt.MapClaims{"iss": "someone-else", "exp": exp}))
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = auth.Verify("Bearer " + signToken(t, secret, jwt.MapClaims{"iss": "leveraged", "exp": time.Now().Add(-time.Hour).Unix()}))
	require.ErrorIs(t, err, ErrInvalidToken)

	var open *Authenticator
	subject, err = open.Verify("")
	require.NoError(t, err)
	require.Empty(t, subject)
	require.Nil(t, NewAuthenticator(nil, ""))
}
