// Package auth issues and validates Yummy's own session tokens.
//
// Unlike an Auth0/JWKS-style validator that only verifies externally-issued
// tokens, AuthService both mints and verifies its own signed envelope per
// spec.md §4.C: {exp, user:{id, session, name?, email?}}.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yummyio/yummy/internal/v1/logging"
)

// CustomClaims is the signed envelope minted by TokenService and verified on
// every authenticated request. UserID/SessionID carry the session binding;
// Subject (from RegisteredClaims) mirrors UserID for compatibility with
// tooling that only inspects the standard "sub" claim.
type CustomClaims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates self-signed session tokens. It is the
// token half of spec.md §4.C's AuthService; it holds no session state of its
// own (that lives in StateStore) and has no knowledge of the one-connection-
// per-user rule, which is enforced by its caller.
type TokenService struct {
	secret        []byte
	privateKey    any
	publicKey     any
	method        jwt.SigningMethod
	issuer        string
	tokenLifetime time.Duration
}

// NewHS256TokenService builds a TokenService signing with a shared HMAC secret.
func NewHS256TokenService(secret, issuer string, lifetime time.Duration) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &TokenService{
		secret:        []byte(secret),
		method:        jwt.SigningMethodHS256,
		issuer:        issuer,
		tokenLifetime: lifetime,
	}, nil
}

// NewRS256TokenService builds a TokenService signing with an RSA keypair.
func NewRS256TokenService(privateKey, publicKey any, issuer string, lifetime time.Duration) (*TokenService, error) {
	return &TokenService{
		privateKey:    privateKey,
		publicKey:     publicKey,
		method:        jwt.SigningMethodRS256,
		issuer:        issuer,
		tokenLifetime: lifetime,
	}, nil
}

func (ts *TokenService) signingKey() any {
	if ts.method == jwt.SigningMethodRS256 {
		return ts.privateKey
	}
	return ts.secret
}

func (ts *TokenService) verifyKey() any {
	if ts.method == jwt.SigningMethodRS256 {
		return ts.publicKey
	}
	return ts.secret
}

// IssueToken mints a new signed session token for userID/sessionID.
func (ts *TokenService) IssueToken(userID, sessionID, name, email string) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:    userID,
		SessionID: sessionID,
		Name:      name,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.tokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(ts.method, claims)
	return token.SignedString(ts.signingKey())
}

// ValidateToken parses and validates a self-issued session token, enforcing
// that it was signed with exactly this service's configured algorithm
// (prevents the "none"/algorithm-confusion class of attack).
func (ts *TokenService) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		return ts.verifyKey(), nil
	},
		jwt.WithValidMethods([]string{ts.method.Alg()}),
		jwt.WithIssuer(ts.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to CustomClaims")
	}

	return claims, nil
}

// RefreshToken validates tokenString and reissues it with the same claims
// but an extended expiry, per spec.md §4.C's RefreshToken operation.
func (ts *TokenService) RefreshToken(tokenString string) (string, error) {
	claims, err := ts.ValidateToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("cannot refresh invalid token: %w", err)
	}
	return ts.IssueToken(claims.UserID, claims.SessionID, claims.Name, claims.Email)
}

func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
