// Package auth maps API bearer tokens to the scopes they grant on the
// invocation API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API.
const (
	ScopeAll           = "*"
	ScopeInvoke        = "invoke"
	ScopeInvocationsRO = "invocations:ro"
	ScopeInvocationsRW = "invocations:rw"
	ScopeEventsRO      = "events:ro"
	ScopeMetricsRO     = "metrics:ro"
)

// implied lists what a scope grants besides itself. Anyone who can run an
// invocation can read its journal entry back.
var implied = map[string][]string{
	ScopeInvoke:        {ScopeInvocationsRO},
	ScopeInvocationsRW: {ScopeInvocationsRO},
}

// KnownScope reports whether s is a scope the API checks.
func KnownScope(s string) bool {
	switch s {
	case ScopeAll, ScopeInvoke, ScopeInvocationsRO, ScopeInvocationsRW, ScopeEventsRO, ScopeMetricsRO:
		return true
	}
	return false
}

// TokenConfig is a configured bearer token and the scopes it carries.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Grant is what an authenticated token may do.
type Grant struct {
	// Admin is set for the single api_key.
	Admin  bool
	scopes map[string]struct{}
}

// Allows reports whether g holds any of required. An empty requirement
// always passes.
func (g Grant) Allows(required ...string) bool {
	if len(required) == 0 || g.Admin {
		return true
	}
	if _, ok := g.scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := g.scopes[s]; ok {
			return true
		}
	}
	return false
}

func grantFor(scopes []string) Grant {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
		for _, extra := range implied[s] {
			set[extra] = struct{}{}
		}
	}
	return Grant{scopes: set}
}

// Keyring resolves presented tokens against the api.auth configuration.
type Keyring struct {
	adminKey string
	tokens   []TokenConfig
}

// NewKeyring builds a Keyring. adminKey may be empty.
func NewKeyring(adminKey string, tokens []TokenConfig) *Keyring {
	return &Keyring{adminKey: adminKey, tokens: tokens}
}

// Lookup returns the grant for presented. Empty tokens never match.
func (k *Keyring) Lookup(presented string) (Grant, bool) {
	if k == nil || presented == "" {
		return Grant{}, false
	}
	if tokensEqual(presented, k.adminKey) {
		return Grant{Admin: true}, true
	}
	for _, t := range k.tokens {
		if tokensEqual(presented, t.Token) {
			return grantFor(t.Scopes), true
		}
	}
	return Grant{}, false
}

func tokensEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BearerToken reads the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

type grantKey struct{}

// WithGrant stores g in ctx for scope checks further down the chain.
func WithGrant(ctx context.Context, g Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

// GrantFrom returns the grant stored by WithGrant.
func GrantFrom(ctx context.Context) (Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(Grant)
	return g, ok
}
