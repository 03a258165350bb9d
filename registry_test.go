package grants_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-grants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticClientRegistry(t *testing.T) {
	ctx := context.Background()
	registry := grants.NewStaticClientRegistry(webClient(), &grants.Client{ID: tvClientID, Public: true})

	client, err := registry.AuthenticateClient(ctx, webClientID, webSecret)
	require.NoError(t, err)
	assert.Equal(t, "Web App", client.Name)

	client.Name = "changed"
	again, err := registry.FindClient(ctx, webClientID)
	require.NoError(t, err)
	assert.Equal(t, "Web App", again.Name)

	tests := []struct {
		name     string
		clientID string
		secret   string
	}{
		{"wrong secret", webClientID, "nope"},
		{"missing secret", webClientID, ""},
		{"unknown client", "ghost", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.AuthenticateClient(ctx, tt.clientID, tt.secret)
			assert.Equal(t, grants.CodeInvalidClient, grants.ErrorCode(err))
		})
	}

	public, err := registry.AuthenticateClient(ctx, tvClientID, "")
	require.NoError(t, err)
	assert.True(t, public.Public)
}

func TestClient_Allows(t *testing.T) {
	client := webClient()

	assert.True(t, client.AllowsRedirect(webRedirect))
	assert.False(t, client.AllowsRedirect(webRedirect+"/"))
	assert.True(t, client.AllowsGrant(grants.GrantTypeAuthorizationCode))
	assert.False(t, client.AllowsGrant(grants.GrantTypeDeviceCode))

	open := &grants.Client{ID: "open"}
	assert.True(t, open.AllowsGrant(grants.GrantTypeDeviceCode))

	var missing *grants.Client
	assert.False(t, missing.AllowsRedirect(webRedirect))
	assert.False(t, missing.AllowsGrant(grants.GrantTypeDeviceCode))
}

func TestStaticActionResolver_MostSpecificWins(t *testing.T) {
	ctx := context.Background()
	resolver := grants.NewStaticActionResolver(
		grants.ActionBinding{Action: grants.ActionConfig{ID: "global"}},
		grants.ActionBinding{Tenant: "acme", Action: grants.ActionConfig{ID: "tenant"}},
		grants.ActionBinding{ClientID: webClientID, Action: grants.ActionConfig{ID: "client"}},
		grants.ActionBinding{Tenant: "acme", ClientID: webClientID, Action: grants.ActionConfig{ID: "tenant-client"}},
	)

	tests := []struct {
		tenant   string
		clientID string
		expected string
	}{
		{"acme", webClientID, "tenant-client"},
		{"other", webClientID, "client"},
		{"acme", tvClientID, "tenant"},
		{"", tvClientID, "global"},
	}
	for _, tt := range tests {
		t.Run(tt.tenant+"/"+tt.clientID, func(t *testing.T) {
			cfg, err := resolver.ResolveAction(ctx, tt.tenant, tt.clientID)
			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.Equal(t, tt.expected, cfg.ID)
		})
	}

	empty := grants.NewStaticActionResolver()
	cfg, err := empty.ResolveAction(ctx, "acme", webClientID)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestStaticIdentityProvider(t *testing.T) {
	ctx := context.Background()
	provider := grants.NewStaticIdentityProvider(alice())

	identity, err := provider.VerifyIdentity(ctx, aliceLogin, alicePassword)
	require.NoError(t, err)
	assert.Equal(t, aliceID, identity.ID())
	assert.Equal(t, "alice@example.com", identity.Email())
	assert.Equal(t, "member", identity.Role())

	_, err = provider.VerifyIdentity(ctx, aliceLogin, "nope")
	assert.ErrorIs(t, err, grants.ErrInvalidCredentials)

	_, err = provider.VerifyIdentity(ctx, "bob", alicePassword)
	assert.ErrorIs(t, err, grants.ErrInvalidCredentials)

	found, err := provider.FindIdentity(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, aliceLogin, found.Username())

	_, err = provider.FindIdentity(ctx, "ghost")
	assert.ErrorIs(t, err, grants.ErrNotFound)
}
