// Package auth signs the visitor session tokens carried in the session cookie.
//
// A token is "v1.<payload>.<mac>": the payload is base64url JSON claims and
// the mac is a keyed BLAKE2b-256 over "v1.<payload>".
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const tokenVersion = "v1"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims identify one visitor session. Sub is the session id.
type Claims struct {
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// ExpiresAt returns Exp as a time.
func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// Signer issues and checks session tokens under one secret.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner derives the MAC key from secret. BLAKE2b keys are capped at 64
// bytes, so longer secrets are hashed down first.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for sessionID valid for the signer's ttl.
func (s *Signer) Issue(sessionID string) (string, Claims, error) {
	now := s.now()
	claims := Claims{
		Sub: sessionID,
		Iat: now.Unix(),
		Exp: now.Add(s.ttl).Unix(),
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("marshal claims: %w", err)
	}
	signed := tokenVersion + "." + base64.RawURLEncoding.EncodeToString(raw)
	mac, err := s.mac(signed)
	if err != nil {
		return "", Claims{}, err
	}
	return signed + "." + mac, claims, nil
}

// Parse checks the mac and expiry and returns the claims.
func (s *Signer) Parse(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenVersion {
		return Claims{}, ErrInvalidToken
	}
	signed := parts[0] + "." + parts[1]
	expected, err := s.mac(signed)
	if err != nil {
		return Claims{}, err
	}
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(expected)) != 1 {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if s.now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (s *Signer) mac(signed string) (string, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return "", fmt.Errorf("init mac: %w", err)
	}
	_, _ = h.Write([]byte(signed))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
