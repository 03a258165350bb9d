package jwtware_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-grants/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("test-secret")

type hmacValidator struct{}

func (hmacValidator) Validate(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func validToken(t *testing.T, scope string) string {
	return signToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
}

func returnErrors(_ router.Context, err error) error {
	return err
}

func run(cfg jwtware.Config, ctx router.Context) error {
	return jwtware.New(cfg)(func(router.Context) error { return nil })(ctx)
}

func TestBearer_ValidToken(t *testing.T) {
	token := validToken(t, "openid profile")

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", "claims", mock.AnythingOfType("jwt.MapClaims")).Return(nil)

	err := run(jwtware.Config{TokenValidator: hmacValidator{}, ErrorHandler: returnErrors}, ctx)
	require.NoError(t, err)
	assert.True(t, ctx.NextCalled)

	claims, ok := jwtware.ClaimsFromContext(ctx, "")
	require.True(t, ok)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestBearer_Rejections(t *testing.T) {
	expired := signToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing header",
			header: "",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, jwtware.ErrTokenMissingOrMalformed)
			},
		},
		{
			name:   "wrong scheme",
			header: "Basic dXNlcjpwYXNz",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, jwtware.ErrTokenMissingOrMalformed)
			},
		},
		{
			name:   "malformed token",
			header: "Bearer malformed.token.structure",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
			},
		},
		{
			name:   "expired token",
			header: "Bearer " + expired,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, jwt.ErrTokenExpired)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			ctx.On("GetString", "Authorization", "").Return(tt.header)

			err := run(jwtware.Config{TokenValidator: hmacValidator{}, ErrorHandler: returnErrors}, ctx)
			require.Error(t, err)
			tt.check(t, err)
			assert.False(t, ctx.NextCalled)
		})
	}
}

func TestBearer_RequiredScopes(t *testing.T) {
	token := validToken(t, "openid")

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)

	err := run(jwtware.Config{
		TokenValidator: hmacValidator{},
		ErrorHandler:   returnErrors,
		RequiredScopes: []string{"openid", "profile", "email"},
	}, ctx)

	var scopeErr *jwtware.ScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, []string{"profile", "email"}, scopeErr.Missing)
	assert.ErrorIs(t, err, jwtware.ErrInsufficientScope)
}

func TestBearer_ChallengeErrorHandler(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		scopes    []string
		status    int
		challenge string
		code      string
	}{
		{
			name:      "no credentials",
			status:    http.StatusUnauthorized,
			challenge: `Bearer realm="api"`,
			code:      "invalid_request",
		},
		{
			name:      "invalid token",
			header:    "Bearer nope",
			status:    http.StatusUnauthorized,
			challenge: `Bearer realm="api", error="invalid_token"`,
			code:      "invalid_token",
		},
		{
			name:      "insufficient scope",
			header:    "Bearer " + validToken(t, "openid"),
			scopes:    []string{"profile"},
			status:    http.StatusForbidden,
			challenge: `Bearer realm="api", error="insufficient_scope", scope="profile"`,
			code:      "insufficient_scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			ctx.On("GetString", "Authorization", "").Return(tt.header)
			ctx.On("SetHeader", "WWW-Authenticate", tt.challenge).Return(ctx).Once()

			var body map[string]any
			ctx.On("JSON", tt.status, mock.Anything).Run(func(args mock.Arguments) {
				body, _ = args.Get(1).(map[string]any)
			}).Return(nil).Once()

			err := run(jwtware.Config{TokenValidator: hmacValidator{}, Realm: "api", RequiredScopes: tt.scopes}, ctx)
			require.NoError(t, err)

			ctx.AssertExpectations(t)
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["error_description"])
		})
	}
}

func TestBearer_QueryLookupAndFilter(t *testing.T) {
	token := validToken(t, "openid")
	cfg := jwtware.Config{
		TokenValidator: hmacValidator{},
		ErrorHandler:   returnErrors,
		TokenLookup:    "header:Authorization,query:access_token",
	}

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")
	ctx.QueriesM["access_token"] = token
	ctx.On("Locals", "claims", mock.Anything).Return(nil)

	require.NoError(t, run(cfg, ctx))
	assert.True(t, ctx.NextCalled)

	cfg.Filter = func(router.Context) bool { return true }
	skipped := router.NewMockContext()
	require.NoError(t, run(cfg, skipped))
	assert.True(t, skipped.NextCalled)
}

func TestBearer_ValidationListeners(t *testing.T) {
	token := validToken(t, "openid")

	var seen string
	cfg := jwtware.Config{
		TokenValidator: hmacValidator{},
		ErrorHandler:   returnErrors,
		ValidationListeners: []jwtware.ValidationListener{
			nil,
			func(_ router.Context, claims jwt.MapClaims) error {
				seen, _ = claims["sub"].(string)
				return nil
			},
		},
	}

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", "claims", mock.Anything).Return(nil)

	require.NoError(t, run(cfg, ctx))
	assert.Equal(t, "user-1", seen)

	denied := errors.New("revoked")
	cfg.ValidationListeners = []jwtware.ValidationListener{
		func(router.Context, jwt.MapClaims) error { return denied },
	}
	blocked := router.NewMockContext()
	blocked.On("GetString", "Authorization", "").Return("Bearer " + token)
	assert.ErrorIs(t, run(cfg, blocked), denied)
	assert.False(t, blocked.NextCalled)
}
