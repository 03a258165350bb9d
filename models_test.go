package grants_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-grants"
	"github.com/stretchr/testify/assert"
)

func TestExpiryIsInclusive(t *testing.T) {
	deadline := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	session := &grants.GrantSession{ExpiresAt: deadline}
	code := &grants.AuthorizationCode{ExpiresAt: deadline}
	device := &grants.DeviceCode{ExpiresAt: deadline}

	before := deadline.Add(-time.Nanosecond)
	assert.False(t, session.Expired(before))
	assert.False(t, code.Expired(before))
	assert.False(t, device.Expired(before))

	assert.True(t, session.Expired(deadline))
	assert.True(t, code.Expired(deadline))
	assert.True(t, device.Expired(deadline))
}

func TestAuthorizeResult_RedirectURL(t *testing.T) {
	result := &grants.AuthorizeResult{
		Session: &grants.GrantSession{RedirectURI: "https://app.example.com/cb?tenant=acme", State: "a&b"},
		Code:    &grants.AuthorizationCode{Code: "abc"},
	}

	target, err := result.RedirectURL()
	assert.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb?code=abc&state=a%26b&tenant=acme", target)

	_, err = (&grants.AuthorizeResult{}).RedirectURL()
	assert.Equal(t, grants.CodeInvalidSessionState, grants.ErrorCode(err))
}

func TestIssuedToken_ExpiresIn(t *testing.T) {
	now := time.Now()
	token := &grants.IssuedToken{IssuedAt: now, ExpiresAt: now.Add(7200 * time.Second)}
	assert.Equal(t, int64(7200), token.ExpiresIn())
}
