// Package auth implements the three credential kinds: the static bearer
// token, HMAC-signed scoped script tokens with revocation, and cookie
// web-sessions with sliding expiry.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/viant/treq"
)

const (
	// TokenPrefix is the current script token wire prefix.
	TokenPrefix = "script."
	// LegacyTokenPrefix is the underscore-separated legacy form.
	LegacyTokenPrefix = "script_"

	// DefaultTokenTTL bounds script token lifetime.
	DefaultTokenTTL = 15 * time.Minute
)

// TokenPayload is the signed claim set of a script token.
type TokenPayload struct {
	JTI       string `json:"jti"`
	FlowID    string `json:"flowId"`
	SessionID string `json:"sessionId"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Issuer signs, validates and revokes script tokens. A token is valid iff its
// signature verifies, it has not expired, and its jti is still active.
type Issuer struct {
	secret []byte
	store  ActiveStore
	ttl    time.Duration
	clock  clockwork.Clock
}

// IssuerOption customizes an Issuer.
type IssuerOption func(*Issuer)

// WithTokenTTL overrides the default script token TTL.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerClock injects a clock, used by tests.
func WithIssuerClock(clock clockwork.Clock) IssuerOption {
	return func(i *Issuer) { i.clock = clock }
}

// WithActiveStore overrides the jti store (e.g. the Redis-backed one).
func WithActiveStore(store ActiveStore) IssuerOption {
	return func(i *Issuer) { i.store = store }
}

// NewIssuer creates an Issuer keyed with the server token.
func NewIssuer(serverToken string, options ...IssuerOption) *Issuer {
	ret := &Issuer{
		secret: []byte(serverToken),
		ttl:    DefaultTokenTTL,
		clock:  clockwork.NewRealClock(),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.store == nil {
		ret.store = NewMemoryActiveStore(ret.clock)
	}
	return ret
}

// Issue mints a token scoped to flowID and sessionID and registers its jti.
func (i *Issuer) Issue(ctx context.Context, flowID, sessionID string) (string, *TokenPayload, error) {
	now := i.clock.Now()
	payload := &TokenPayload{
		JTI:       uuid.New().String(),
		FlowID:    flowID,
		SessionID: sessionID,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(i.ttl).UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(data)
	signature := i.sign(payloadB64)
	if err := i.store.Add(ctx, payload.JTI, time.UnixMilli(payload.ExpiresAt)); err != nil {
		return "", nil, err
	}
	return TokenPrefix + payloadB64 + "." + signature, payload, nil
}

// Validate parses and verifies token, returning its payload when the
// signature holds, the token has not expired, and the jti is active.
func (i *Issuer) Validate(ctx context.Context, token string) (*TokenPayload, error) {
	candidates, err := splitToken(token)
	if err != nil {
		return nil, err
	}
	payloadB64 := ""
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate.signature), []byte(i.sign(candidate.payload))) {
			payloadB64 = candidate.payload
			break
		}
	}
	if payloadB64 == "" {
		return nil, treq.NewError(treq.CodeUnauthorized, "invalid script token signature")
	}
	data, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, treq.NewError(treq.CodeUnauthorized, "malformed script token payload")
	}
	payload := &TokenPayload{}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, treq.NewError(treq.CodeUnauthorized, "malformed script token payload")
	}
	if i.clock.Now().UnixMilli() >= payload.ExpiresAt {
		return nil, treq.NewError(treq.CodeUnauthorized, "script token expired")
	}
	active, err := i.store.Active(ctx, payload.JTI)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, treq.NewError(treq.CodeUnauthorized, "script token revoked")
	}
	return payload, nil
}

// Revoke removes a jti from the active set.
func (i *Issuer) Revoke(ctx context.Context, jti string) error {
	return i.store.Remove(ctx, jti)
}

func (i *Issuer) sign(payloadB64 string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// IsScriptToken reports whether value carries a script token wire prefix.
func IsScriptToken(value string) bool {
	return strings.HasPrefix(value, TokenPrefix) || strings.HasPrefix(value, LegacyTokenPrefix)
}

type tokenParts struct {
	payload   string
	signature string
}

// splitToken returns candidate payload/signature splits. The legacy "_"
// separator also occurs inside base64url segments, so every split point is a
// candidate; signature verification picks the right one.
func splitToken(token string) ([]tokenParts, error) {
	var rest, separator string
	switch {
	case strings.HasPrefix(token, TokenPrefix):
		rest, separator = token[len(TokenPrefix):], "."
	case strings.HasPrefix(token, LegacyTokenPrefix):
		rest, separator = token[len(LegacyTokenPrefix):], "_"
	default:
		return nil, treq.NewError(treq.CodeUnauthorized, "not a script token")
	}
	var ret []tokenParts
	for at := 0; at < len(rest); at++ {
		if rest[at:at+1] != separator || at == 0 || at == len(rest)-1 {
			continue
		}
		ret = append(ret, tokenParts{payload: rest[:at], signature: rest[at+1:]})
	}
	if len(ret) == 0 {
		return nil, treq.NewError(treq.CodeUnauthorized, "malformed script token")
	}
	return ret, nil
}
