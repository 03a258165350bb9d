package grants_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-grants"
	"github.com/stretchr/testify/assert"
)

func TestTokenState_MapClaims(t *testing.T) {
	state := liveState()
	state.TokenID = "jti-1"
	state.Claims["sub"] = "ignored"

	claims := state.MapClaims()

	assert.Equal(t, aliceID, claims["sub"])
	assert.Equal(t, "jti-1", claims["jti"])
	assert.Equal(t, "openid profile", claims["scope"])
	assert.Equal(t, []string{webClientID, "api.example.com"}, claims["aud"])
	assert.Equal(t, jwt.NewNumericDate(state.ExpiresAt), claims["exp"])
	assert.Equal(t, "gold", claims["tier"])

	state.Scopes = grants.OrderedSet{}
	assert.NotContains(t, state.MapClaims(), "scope")
}

func TestTokenState_CloneIsDeep(t *testing.T) {
	state := liveState()
	state.Claims["groups"] = []string{"staff"}

	clone := state.Clone()
	clone.Scopes.Add("email")
	clone.Audience.Remove(webClientID)
	clone.Claims["tier"] = "silver"
	clone.Claims["groups"].([]string)[0] = "changed"

	assert.False(t, state.Scopes.Has("email"))
	assert.True(t, state.Audience.Has(webClientID))
	assert.Equal(t, "gold", state.Claims["tier"])
	assert.Equal(t, []string{"staff"}, state.Claims["groups"])
}

func TestTokenState_TTL(t *testing.T) {
	state := liveState()
	assert.Equal(t, time.Hour, state.TTL())
}

func TestIsProtectedClaim(t *testing.T) {
	for _, name := range []string{"iss", "sub", "iat", "exp", "nbf", "jti", "client_id", "scope"} {
		assert.True(t, grants.IsProtectedClaim(name), name)
	}
	assert.False(t, grants.IsProtectedClaim("given_name"))
	assert.False(t, grants.IsProtectedClaim("aud"))
}
