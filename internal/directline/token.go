// Package directline implements the Direct Line 3.0 conversation surface:
// signed tokens, per-conversation watermarked state, and the HTTP dispatcher
// the webchat adapter mounts under /v3/directline.
package directline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoncanonicalizer "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// TTLSeconds is the lifetime of issued tokens.
const TTLSeconds = 1800

// Token verification failures.
var (
	ErrMalformed    = errors.New("directline: malformed token")
	ErrBadSignature = errors.New("directline: bad token signature")
	ErrExpired      = errors.New("directline: token expired")
)

// Context scopes a token and its conversations to an environment, tenant,
// and optional team.
type Context struct {
	Env    string `json:"env"`
	Tenant string `json:"tenant"`
	Team   string `json:"team,omitempty"`
}

// Claims are the signed token contents.
type Claims struct {
	Context
	Sub  string `json:"sub"`
	Conv string `json:"conv,omitempty"`
	Iat  int64  `json:"iat"`
	Exp  int64  `json:"exp"`
}

// IssueToken mints a signed token for the given context and user. conv is
// empty for unbound tokens and set once a conversation is opened. Returns
// the token and its expiry.
func IssueToken(signingKey []byte, ctx Context, userID, conv string, now time.Time) (string, int64, error) {
	claims := Claims{
		Context: ctx,
		Sub:     userID,
		Conv:    conv,
		Iat:     now.Unix(),
		Exp:     now.Unix() + TTLSeconds,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", 0, fmt.Errorf("encoding claims: %w", err)
	}
	sig, err := sign(signingKey, payload)
	if err != nil {
		return "", 0, err
	}
	token := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
	return token, claims.Exp, nil
}

// VerifyToken checks the signature and expiry and returns the claims.
func VerifyToken(signingKey []byte, token string, now time.Time) (Claims, error) {
	var claims Claims

	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return claims, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return claims, ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return claims, ErrMalformed
	}

	expected, err := sign(signingKey, payload)
	if err != nil {
		// Claims that cannot be canonicalized were never issued by us.
		return claims, ErrMalformed
	}
	if !hmac.Equal(sig, expected) {
		return claims, ErrBadSignature
	}

	if err := json.Unmarshal(payload, &claims); err != nil {
		return claims, ErrMalformed
	}
	if now.Unix() > claims.Exp {
		return claims, ErrExpired
	}
	return claims, nil
}

// sign computes HMAC-SHA256 over the canonical (RFC 8785) form of the claims
// JSON, so semantically equal claim documents verify regardless of key order.
func sign(key, claimsJSON []byte) ([]byte, error) {
	canonical, err := jsoncanonicalizer.Transform(claimsJSON)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing claims: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return mac.Sum(nil), nil
}
