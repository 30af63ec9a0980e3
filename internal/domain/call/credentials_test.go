package call

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCredentialSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"ephemeral","expiresAt":"2026-10-19T10:00:00Z","url":"wss://relay.example/live"}`))
	}))
	defer srv.Close()

	src := &HTTPCredentialSource{URL: srv.URL, APIKey: "secret"}
	cred, err := src.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ephemeral", cred.Token)
	assert.Equal(t, "wss://relay.example/live", cred.URL)
	assert.Equal(t, 2026, cred.ExpiresAt.Year())

	src.APIKey = "wrong"
	_, err = src.Credential(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPCredentialSource_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	_, err := (&HTTPCredentialSource{URL: srv.URL}).Credential(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestJWTCredentialSource_RoundTrip(t *testing.T) {
	src := NewJWTCredentialSource("s3cret", "voice-server", "voice-1", time.Minute)
	cred, err := src.Credential(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), cred.ExpiresAt, 5*time.Second)

	claims, err := VerifyCredential([]byte("s3cret"), "voice-server", cred.Token)
	require.NoError(t, err)
	assert.Equal(t, "voice-1", claims.Subject)
	assert.Equal(t, "call:live", claims.Scope)
	assert.NotEmpty(t, claims.ID)

	_, err = VerifyCredential([]byte("other"), "voice-server", cred.Token)
	assert.Error(t, err)
	_, err = VerifyCredential([]byte("s3cret"), "someone-else", cred.Token)
	assert.Error(t, err)
}

func TestJWTCredentialSource_Expired(t *testing.T) {
	src := NewJWTCredentialSource("s3cret", "", "voice-1", time.Minute)
	src.now = func() time.Time { return time.Now().Add(-time.Hour) }
	cred, err := src.Credential(context.Background())
	require.NoError(t, err)

	_, err = VerifyCredential([]byte("s3cret"), "", cred.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyCredential_RejectsOtherScopes(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CallClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		Scope:            "admin",
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = VerifyCredential([]byte("s3cret"), "", token)
	assert.Error(t, err)
}

func TestJWTCredentialSource_RequiresSecret(t *testing.T) {
	_, err := NewJWTCredentialSource("", "", "", 0).Credential(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}
