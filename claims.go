package grants

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Registered claim names the engine writes itself. Operations may never
// touch them through the generic claim paths.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimNotBefore = "nbf"
	ClaimTokenID   = "jti"
	ClaimClientID  = "client_id"
	ClaimScope     = "scope"
	ClaimExpiresIn = "expires_in"
)

var protectedClaims = map[string]struct{}{
	ClaimIssuer:    {},
	ClaimSubject:   {},
	ClaimIssuedAt:  {},
	ClaimExpiresAt: {},
	ClaimNotBefore: {},
	ClaimTokenID:   {},
	ClaimClientID:  {},
	ClaimScope:     {},
}

// IsProtectedClaim reports whether name is owned by the engine.
func IsProtectedClaim(name string) bool {
	_, ok := protectedClaims[name]
	return ok
}

// TokenState is the in-memory model of an access token before signing.
// Scopes and Audience are ordered sets, Claims holds every other claim.
type TokenState struct {
	Issuer    string
	Subject   string
	ClientID  string
	TokenID   string
	Scopes    OrderedSet
	Audience  OrderedSet
	Claims    map[string]any
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Clone returns a deep copy so mutations never leak into the source state.
func (s TokenState) Clone() TokenState {
	out := s
	out.Scopes = s.Scopes.Clone()
	out.Audience = s.Audience.Clone()
	out.Claims = make(map[string]any, len(s.Claims))
	for k, v := range s.Claims {
		out.Claims[k] = cloneClaimValue(v)
	}
	return out
}

// TTL returns the lifetime of the token.
func (s TokenState) TTL() time.Duration {
	return s.ExpiresAt.Sub(s.IssuedAt)
}

// MapClaims renders the state as the claim set that gets signed.
func (s TokenState) MapClaims() jwt.MapClaims {
	out := jwt.MapClaims{}
	maps.Copy(out, s.Claims)

	out[ClaimIssuer] = s.Issuer
	out[ClaimSubject] = s.Subject
	out[ClaimClientID] = s.ClientID
	out[ClaimTokenID] = s.TokenID
	out[ClaimIssuedAt] = jwt.NewNumericDate(s.IssuedAt)
	out[ClaimExpiresAt] = jwt.NewNumericDate(s.ExpiresAt)
	out[ClaimAudience] = s.Audience.Values()
	if s.Scopes.Len() > 0 {
		out[ClaimScope] = s.Scopes.String()
	}
	return out
}

func cloneClaimValue(v any) any {
	switch tv := v.(type) {
	case []string:
		return append([]string(nil), tv...)
	case []any:
		return append([]any(nil), tv...)
	case map[string]any:
		return maps.Clone(tv)
	default:
		return v
	}
}

// stringSlice normalizes array claim values decoded from JSON.
func stringSlice(v any) ([]string, bool) {
	switch tv := v.(type) {
	case []string:
		return append([]string(nil), tv...), true
	case []any:
		out := make([]string, 0, len(tv))
		for _, item := range tv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
