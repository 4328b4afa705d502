package tokengenerator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
)

// SESSION_TOKEN_NAME is the token name used for the authenticated session cookie
const SESSION_TOKEN_NAME = "session"

// DefaultSessionTokenExpiry is used when no expiry is configured
const DefaultSessionTokenExpiry = 12 * time.Hour

var ErrEmptySecret = errors.New("token secret must not be empty")

// TokenGenerator interface defines methods for token operations
type TokenGenerator interface {
	// GenerateToken generates a token for subject valid for expiry
	GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error)

	// ParseToken parses and validates a token
	ParseToken(tokenStr string) (*Claims, error)
}

// Claims struct for JWT claims
type Claims struct {
	ExtraClaims map[string]interface{} `json:"extra_claims,omitempty"`
	jwt.RegisteredClaims
}

// JwtTokenGenerator implements TokenGenerator with HS256
type JwtTokenGenerator struct {
	Secret   string
	Issuer   string
	Audience string
	now      func() time.Time
}

// GeneratorOption configures a JwtTokenGenerator
type GeneratorOption func(*JwtTokenGenerator)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *JwtTokenGenerator) {
		g.now = now
	}
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator
func NewJwtTokenGenerator(secret, issuer, audience string, opts ...GeneratorOption) (*JwtTokenGenerator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	g := &JwtTokenGenerator{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// GenerateToken creates a new token with the given subject and claims
func (g *JwtTokenGenerator) GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error) {
	if expiry <= 0 {
		expiry = DefaultSessionTokenExpiry
	}
	now := g.now().UTC()
	claims := Claims{
		ExtraClaims: extraClaims,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			Issuer:    g.Issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{g.Audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed sign JWT Claim string!", "err", err)
		return "", time.Time{}, err
	}
	return ss, claims.ExpiresAt.Time, nil
}

// ParseToken parses a token string and checks signature, expiry, issuer and audience.
func (g *JwtTokenGenerator) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	}
	if g.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(g.Issuer))
	}
	if g.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(g.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(g.Secret), nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("failed_parse_token_claims")
	}
	return claims, nil
}

// JWTAuth returns a verifier for the tokens this generator signs, for use with
// the jwtauth middleware. It checks the same issuer, audience and clock.
func (g *JwtTokenGenerator) JWTAuth() *jwtauth.JWTAuth {
	opts := []jwxjwt.ValidateOption{
		jwxjwt.WithClock(jwxjwt.ClockFunc(g.now)),
		jwxjwt.WithRequiredClaim(jwxjwt.ExpirationKey),
	}
	if g.Issuer != "" {
		opts = append(opts, jwxjwt.WithIssuer(g.Issuer))
	}
	if g.Audience != "" {
		opts = append(opts, jwxjwt.WithAudience(g.Audience))
	}
	return jwtauth.New(jwt.SigningMethodHS256.Alg(), []byte(g.Secret), nil, opts...)
}
