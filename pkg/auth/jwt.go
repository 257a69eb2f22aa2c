// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides a bearer token permission hook for tus.Handler.
// Tokens are JWTs whose "ops" claim lists the operations the bearer may
// perform ("*" for all) and whose optional "upload" claim pins them to one
// upload id.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"time"

	zctx "github.com/LeeDigitalWorks/zaptus/pkg/context"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/tus"

	"github.com/golang-jwt/jwt/v5"
)

// AllOperations in the ops claim grants every operation
const AllOperations = "*"

var (
	ErrNoToken      = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Config selects how tokens are verified. Exactly one of Secret or
// PublicKeyPEM must be set.
type Config struct {
	// Secret verifies and signs HS256 tokens
	Secret string `mapstructure:"secret"`
	// PublicKeyPEM verifies RS256 tokens issued elsewhere
	PublicKeyPEM string `mapstructure:"public_key"`

	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// Claims are the token claims understood by JWT
type Claims struct {
	jwt.RegisteredClaims
	Ops    []string `json:"ops"`
	Upload string   `json:"upload,omitempty"`
}

// Allows reports whether the claims grant op on id
func (c *Claims) Allows(op tus.Operation, id string) bool {
	if !slices.Contains(c.Ops, AllOperations) && !slices.Contains(c.Ops, string(op)) {
		return false
	}
	if c.Upload != "" && id != "" && id != c.Upload {
		return false
	}
	return true
}

// JWT verifies bearer tokens carried in the request context.
type JWT struct {
	secret    []byte
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
	issuer    string
	audience  string
}

func NewJWT(cfg Config) (*JWT, error) {
	j := &JWT{issuer: cfg.Issuer, audience: cfg.Audience}

	opts := []jwt.ParserOption{jwt.WithLeeway(cfg.Leeway)}
	switch {
	case cfg.Secret != "" && cfg.PublicKeyPEM != "":
		return nil, fmt.Errorf("secret and public key are mutually exclusive")
	case cfg.Secret != "":
		j.secret = []byte(cfg.Secret)
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		j.publicKey = key
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	default:
		return nil, ErrNoSigningKey
	}

	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	j.parser = jwt.NewParser(opts...)
	return j, nil
}

func (j *JWT) keyFunc(*jwt.Token) (any, error) {
	if j.publicKey != nil {
		return j.publicKey, nil
	}
	return j.secret, nil
}

// Verify parses and validates a token.
func (j *JWT) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := j.parser.ParseWithClaims(token, claims, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Permission implements tus.Permission. A missing or invalid token is an
// error; a valid token that does not grant the operation is a Deny.
func (j *JWT) Permission(ctx context.Context, op tus.Operation, id string) (tus.Decision, error) {
	token := zctx.Token(ctx)
	if token == "" {
		return tus.Deny, ErrNoToken
	}
	claims, err := j.Verify(token)
	if err != nil {
		logger.Ctx(ctx).Debug().Err(err).Str("operation", string(op)).Msg("token rejected")
		return tus.Deny, err
	}
	if !claims.Allows(op, id) {
		return tus.Deny, nil
	}
	return tus.Allow, nil
}

// Issue signs an HS256 token granting ops, optionally pinned to one upload.
func (j *JWT) Issue(subject string, ops []string, upload string, ttl time.Duration) (string, error) {
	if j.secret == nil {
		return "", ErrNoSigningKey
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   j.issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Ops:    ops,
		Upload: upload,
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
