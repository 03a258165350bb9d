package grants_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-grants"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer     = "https://auth.example.com"
	testSigningKey = "0123456789abcdef0123"

	webClientID = "web"
	webSecret   = "web-secret"
	webRedirect = "https://app.example.com/callback"

	spaClientID = "spa"
	spaRedirect = "https://spa.example.com/cb"

	tvClientID = "tv"

	aliceID       = "user-1"
	aliceLogin    = "alice"
	alicePassword = "wonderland"
)

var (
	webSecretHash = sync.OnceValue(func() string {
		h, err := grants.HashSecret(webSecret)
		if err != nil {
			panic(err)
		}
		return h
	})

	alicePasswordHash = sync.OnceValue(func() string {
		h, err := grants.HashSecret(alicePassword)
		if err != nil {
			panic(err)
		}
		return h
	})
)

// MockClientRegistry implements grants.ClientRegistry
type MockClientRegistry struct {
	mock.Mock
}

func (m *MockClientRegistry) FindClient(ctx context.Context, clientID string) (*grants.Client, error) {
	args := m.Called(ctx, clientID)
	client, _ := args.Get(0).(*grants.Client)
	return client, args.Error(1)
}

func (m *MockClientRegistry) AuthenticateClient(ctx context.Context, clientID, secret string) (*grants.Client, error) {
	args := m.Called(ctx, clientID, secret)
	client, _ := args.Get(0).(*grants.Client)
	return client, args.Error(1)
}

// MockIdentityProvider implements grants.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (grants.Identity, error) {
	args := m.Called(ctx, identifier, password)
	identity, _ := args.Get(0).(grants.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityProvider) FindIdentity(ctx context.Context, userID string) (grants.Identity, error) {
	args := m.Called(ctx, userID)
	identity, _ := args.Get(0).(grants.Identity)
	return identity, args.Error(1)
}

// MockActionResolver implements grants.ActionResolver
type MockActionResolver struct {
	mock.Mock
}

func (m *MockActionResolver) ResolveAction(ctx context.Context, tenant, clientID string) (*grants.ActionConfig, error) {
	args := m.Called(ctx, tenant, clientID)
	cfg, _ := args.Get(0).(*grants.ActionConfig)
	return cfg, args.Error(1)
}

// MockActionInvoker implements grants.ActionInvoker
type MockActionInvoker struct {
	mock.Mock
}

func (m *MockActionInvoker) Invoke(ctx context.Context, cfg grants.ActionConfig, event grants.ActionEvent) ([]grants.Operation, error) {
	args := m.Called(ctx, cfg, event)
	ops, _ := args.Get(0).([]grants.Operation)
	return ops, args.Error(1)
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingSink struct {
	mu     sync.Mutex
	events []grants.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt grants.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []grants.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]grants.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func testOptions() grants.Options {
	opts := grants.DefaultOptions()
	opts.Issuer = testIssuer
	opts.SigningKey = testSigningKey
	return opts
}

func webClient() *grants.Client {
	return &grants.Client{
		ID:            webClientID,
		Name:          "Web App",
		Tenant:        "acme",
		SecretHash:    webSecretHash(),
		RedirectURIs:  []string{webRedirect},
		DefaultScopes: []string{"openid"},
		GrantTypes:    []string{grants.GrantTypeAuthorizationCode},
	}
}

func alice() grants.BasicIdentity {
	return grants.BasicIdentity{
		Subject:      aliceID,
		Login:        aliceLogin,
		EmailAddress: "alice@example.com",
		RoleName:     "member",
		PasswordHash: alicePasswordHash(),
		Claims: map[string]any{
			"given_name":  "Alice",
			"family_name": "Liddell",
		},
	}
}

type fixture struct {
	ctx        context.Context
	opts       grants.Options
	clock      *testClock
	store      *grants.MemoryStore
	clients    *grants.StaticClientRegistry
	identities *grants.StaticIdentityProvider
	tokens     *grants.TokenServiceImpl
	issuer     *grants.TokenIssuer
	sink       *capturingSink
	authCode   *grants.AuthCodeFlow
	device     *grants.DeviceFlow
}

func newFixture(t *testing.T, issuerOpts ...grants.IssuerOption) *fixture {
	t.Helper()

	f := &fixture{
		ctx:   context.Background(),
		opts:  testOptions(),
		clock: newTestClock(),
		store: grants.NewMemoryStore(),
		sink:  &capturingSink{},
	}

	f.clients = grants.NewStaticClientRegistry(
		webClient(),
		&grants.Client{
			ID:           spaClientID,
			Public:       true,
			SkipConsent:  true,
			RedirectURIs: []string{spaRedirect},
			GrantTypes:   []string{grants.GrantTypeAuthorizationCode},
		},
		&grants.Client{
			ID:            tvClientID,
			Name:          "Living Room TV",
			Public:        true,
			DefaultScopes: []string{"openid"},
			GrantTypes:    []string{grants.GrantTypeDeviceCode},
		},
	)
	f.identities = grants.NewStaticIdentityProvider(alice())
	f.tokens = grants.NewTokenService([]byte(testSigningKey), testIssuer, testLogger{})

	opts := append([]grants.IssuerOption{
		grants.WithIssuerClock(f.clock.Now),
		grants.WithIssuerLogger(testLogger{}),
		grants.WithIssuerActivitySink(f.sink),
	}, issuerOpts...)
	f.issuer = grants.NewTokenIssuer(f.opts, f.tokens, opts...)

	flowOpts := []grants.Option{
		grants.WithClock(f.clock.Now),
		grants.WithLogger(testLogger{}),
		grants.WithActivitySink(f.sink),
	}
	f.authCode = grants.NewAuthCodeFlow(f.opts, f.store, f.clients, f.identities, f.issuer, flowOpts...)
	f.device = grants.NewDeviceFlow(f.opts, f.store, f.clients, f.identities, f.issuer, flowOpts...)

	return f
}

// issueCode runs authorize, login and consent for the web client.
func (f *fixture) issueCode(t *testing.T, scope string) *grants.AuthorizationCode {
	t.Helper()

	session, err := f.authCode.Authorize(f.ctx, grants.AuthorizeRequest{
		ResponseType: grants.ResponseTypeCode,
		ClientID:     webClientID,
		RedirectURI:  webRedirect,
		Scope:        scope,
		State:        "xyz",
	})
	require.NoError(t, err)

	result, err := f.authCode.CompleteLogin(f.ctx, session.Key, grants.Credentials{
		Identifier: aliceLogin,
		Password:   alicePassword,
	})
	require.NoError(t, err)
	require.Nil(t, result.Code)

	result, err = f.authCode.CompleteConsent(f.ctx, session.Key, session.RequestedScopes)
	require.NoError(t, err)
	require.NotNil(t, result.Code)

	return result.Code
}

func (f *fixture) exchange(code string) (*grants.IssuedToken, error) {
	return f.authCode.ExchangeCode(f.ctx, grants.ExchangeRequest{
		Code:         code,
		ClientID:     webClientID,
		ClientSecret: webSecret,
		RedirectURI:  webRedirect,
	})
}

func (f *fixture) claims(t *testing.T, token *grants.IssuedToken) jwt.MapClaims {
	t.Helper()
	require.NotNil(t, token)
	claims, err := f.tokens.Validate(token.AccessToken)
	require.NoError(t, err)
	return claims
}
