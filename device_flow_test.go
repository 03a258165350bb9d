package grants_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-grants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initiate(t *testing.T, f *fixture) *grants.DeviceAuthorization {
	t.Helper()
	auth, err := f.device.InitiateDeviceAuth(f.ctx, tvClientID, nil)
	require.NoError(t, err)
	return auth
}

func TestDeviceFlow_Initiate(t *testing.T) {
	f := newFixture(t)

	auth, err := f.device.InitiateDeviceAuth(f.ctx, tvClientID, []string{"openid", "profile", "openid"})
	require.NoError(t, err)

	assert.NotEmpty(t, auth.DeviceCode)
	assert.Len(t, auth.UserCode, 9)
	assert.Equal(t, "-", auth.UserCode[4:5])
	assert.Equal(t, int64(600), auth.ExpiresIn)
	assert.Equal(t, int64(5), auth.Interval)
	assert.Equal(t, f.opts.VerificationURI, auth.VerificationURI)
	assert.True(t, strings.HasPrefix(auth.VerificationURIComplete, f.opts.VerificationURI+"?user_code="))

	device, err := f.store.FindDeviceCode(f.ctx, auth.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile"}, device.Scopes)
	assert.Equal(t, grants.DevicePending, device.Status)
	assert.Equal(t, f.clock.Now().Add(600*time.Second), device.ExpiresAt)
}

func TestDeviceFlow_InitiateRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.device.InitiateDeviceAuth(f.ctx, "", nil)
	assert.Equal(t, grants.CodeInvalidRequest, grants.ErrorCode(err))

	_, err = f.device.InitiateDeviceAuth(f.ctx, "ghost", nil)
	assert.Equal(t, grants.CodeInvalidClient, grants.ErrorCode(err))

	_, err = f.device.InitiateDeviceAuth(f.ctx, webClientID, nil)
	assert.Equal(t, grants.CodeInvalidClient, grants.ErrorCode(err))
}

type collidingCodes struct {
	grants.CodeGenerator
	mu    sync.Mutex
	codes []string
}

func (c *collidingCodes) UserCode(int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.codes[0]
	if len(c.codes) > 1 {
		c.codes = c.codes[1:]
	}
	return code, nil
}

func TestDeviceFlow_UserCodeCollisionRetries(t *testing.T) {
	f := newFixture(t)
	codes := &collidingCodes{
		CodeGenerator: grants.DefaultCodeGenerator(),
		codes:         []string{"BBBBBBBB", "BBBBBBBB", "CCCCCCCC"},
	}
	device := grants.NewDeviceFlow(f.opts, f.store, f.clients, f.identities, f.issuer,
		grants.WithClock(f.clock.Now),
		grants.WithLogger(testLogger{}),
		grants.WithCodeGenerator(codes),
	)

	first, err := device.InitiateDeviceAuth(f.ctx, tvClientID, nil)
	require.NoError(t, err)
	assert.Equal(t, "BBBB-BBBB", first.UserCode)

	second, err := device.InitiateDeviceAuth(f.ctx, tvClientID, nil)
	require.NoError(t, err)
	assert.Equal(t, "CCCC-CCCC", second.UserCode)
}

func TestDeviceFlow_PollLifecycle(t *testing.T) {
	f := newFixture(t)
	auth := initiate(t, f)

	_, err := f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
	assert.Equal(t, grants.CodeAuthorizationPending, grants.ErrorCode(err))

	// polling again before the interval elapsed
	f.clock.Advance(2 * time.Second)
	_, err = f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
	assert.Equal(t, grants.CodeSlowDown, grants.ErrorCode(err))

	device, err := f.store.FindDeviceCode(f.ctx, auth.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, device.PollInterval)

	_, err = f.device.VerifyUserCode(f.ctx, strings.ToLower(auth.UserCode), grants.Credentials{
		Identifier: aliceLogin,
		Password:   alicePassword,
	})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	token, err := f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
	require.NoError(t, err)

	claims := f.claims(t, token)
	assert.Equal(t, aliceID, claims["sub"])
	assert.Equal(t, tvClientID, claims["client_id"])

	f.clock.Advance(10 * time.Second)
	_, err = f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
	assert.Equal(t, grants.CodeExpiredToken, grants.ErrorCode(err))

	assert.Contains(t, f.sink.types(), grants.ActivityEventDeviceRedeemed)
}

func TestDeviceFlow_ConcurrentPollsRedeemOnce(t *testing.T) {
	f := newFixture(t)
	auth := initiate(t, f)

	_, err := f.device.ApproveByUserCode(f.ctx, auth.UserCode, aliceID)
	require.NoError(t, err)

	const workers = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tokens  int
		results []string
		start   = make(chan struct{})
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				tokens++
				return
			}
			results = append(results, grants.ErrorCode(err))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, tokens)
	assert.Equal(t, []string{grants.CodeExpiredToken}, results)
}

func TestDeviceFlow_Deny(t *testing.T) {
	f := newFixture(t)
	auth := initiate(t, f)

	_, err := f.device.RejectUserCode(f.ctx, auth.UserCode, grants.Credentials{Identifier: aliceLogin, Password: "nope"})
	assert.Equal(t, grants.CodeInvalidCredentials, grants.ErrorCode(err))

	denied, err := f.device.RejectUserCode(f.ctx, auth.UserCode, grants.Credentials{Identifier: aliceLogin, Password: alicePassword})
	require.NoError(t, err)
	assert.Equal(t, grants.DeviceDenied, denied.Status)

	_, err = f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
	assert.Equal(t, grants.CodeAccessDenied, grants.ErrorCode(err))

	_, err = f.device.ApproveByUserCode(f.ctx, auth.UserCode, aliceID)
	assert.Equal(t, grants.CodeAlreadyActioned, grants.ErrorCode(err))
}

func TestDeviceFlow_Expiry(t *testing.T) {
	f := newFixture(t)
	auth := initiate(t, f)

	f.clock.Advance(600 * time.Second)

	_, err := f.device.PollToken(f.ctx, auth.DeviceCode, tvClientID)
	assert.Equal(t, grants.CodeExpiredToken, grants.ErrorCode(err))

	_, err = f.device.ApproveByUserCode(f.ctx, auth.UserCode, aliceID)
	assert.Equal(t, grants.CodeInvalidUserCode, grants.ErrorCode(err))
}

func TestDeviceFlow_PollRejections(t *testing.T) {
	f := newFixture(t)
	auth := initiate(t, f)

	_, err := f.device.PollToken(f.ctx, "unknown", tvClientID)
	assert.Equal(t, grants.CodeInvalidGrant, grants.ErrorCode(err))

	_, err = f.device.PollToken(f.ctx, auth.DeviceCode, webClientID)
	assert.Equal(t, grants.CodeInvalidGrant, grants.ErrorCode(err))

	_, err = f.device.ApproveByUserCode(f.ctx, "ZZZZ-ZZZZ", aliceID)
	assert.Equal(t, grants.CodeInvalidUserCode, grants.ErrorCode(err))

	_, err = f.device.ApproveByUserCode(f.ctx, auth.UserCode, "")
	assert.Equal(t, grants.CodeInvalidRequest, grants.ErrorCode(err))
}
