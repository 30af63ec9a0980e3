package call

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Credential authorizes one upstream connection.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	// URL overrides the dialer's endpoint when the issuer assigns one.
	URL string `json:"url,omitempty"`
}

// CredentialSource mints an ephemeral credential per call.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// HTTPCredentialSource asks a token endpoint for a credential.
type HTTPCredentialSource struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

func (s *HTTPCredentialSource) Credential(ctx context.Context) (Credential, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Credential{}, transportErr("credential", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, transportErr("credential", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Credential{}, transportErr("credential", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, transportErr("credential", fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	}

	var cred Credential
	if err := sonic.Unmarshal(body, &cred); err != nil {
		return Credential{}, transportErr("credential", fmt.Errorf("decode token: %w", err))
	}
	if cred.Token == "" {
		return Credential{}, transportErr("credential", errors.New("token endpoint returned no token"))
	}
	return cred, nil
}

// JWTCredentialSource signs short-lived HS256 tokens for a relay that
// shares the secret.
type JWTCredentialSource struct {
	Secret  []byte
	Issuer  string
	Subject string
	TTL     time.Duration
	now     func() time.Time
}

func NewJWTCredentialSource(secret, issuer, subject string, ttl time.Duration) *JWTCredentialSource {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &JWTCredentialSource{Secret: []byte(secret), Issuer: issuer, Subject: subject, TTL: ttl, now: time.Now}
}

// CallClaims are the claims of a call credential.
type CallClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

const callScope = "call:live"

func (s *JWTCredentialSource) Credential(context.Context) (Credential, error) {
	if len(s.Secret) == 0 {
		return Credential{}, transportErr("credential", errors.New("jwt secret not configured"))
	}
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	expires := now.Add(s.TTL)
	claims := CallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   s.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Scope: callScope,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return Credential{}, transportErr("credential", err)
	}
	return Credential{Token: token, ExpiresAt: expires}, nil
}

// VerifyCredential checks a token minted by JWTCredentialSource.
func VerifyCredential(secret []byte, issuer, token string) (*CallClaims, error) {
	claims := &CallClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Scope != callScope {
		return nil, errors.New("credential is not valid for live calls")
	}
	return claims, nil
}
