package grants

import (
	"context"
	"maps"
	"sync"
)

// StaticClientRegistry is an in-memory ClientRegistry. Confidential client
// secrets are stored as bcrypt hashes.
type StaticClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewStaticClientRegistry creates a registry holding clients
func NewStaticClientRegistry(clients ...*Client) *StaticClientRegistry {
	r := &StaticClientRegistry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a client
func (r *StaticClientRegistry) Register(client *Client) {
	if client == nil || client.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

func (r *StaticClientRegistry) FindClient(_ context.Context, clientID string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, ErrInvalidClient
	}
	out := *client
	return &out, nil
}

// AuthenticateClient accepts public clients without a secret and checks the
// secret of confidential ones.
func (r *StaticClientRegistry) AuthenticateClient(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := r.FindClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Public {
		return client, nil
	}
	if secret == "" || client.SecretHash == "" {
		return nil, ErrInvalidClient
	}
	if err := CompareSecretAndHash(secret, client.SecretHash); err != nil {
		return nil, WrapError(ErrInvalidClient, err, map[string]any{"client_id": clientID})
	}
	return client, nil
}

var _ ClientRegistry = (*StaticClientRegistry)(nil)

// ActionBinding attaches an action to a tenant, a client, or both. Empty
// fields match anything.
type ActionBinding struct {
	Tenant   string       `toml:"tenant"`
	ClientID string       `toml:"client_id"`
	Action   ActionConfig `toml:"action"`
}

// StaticActionResolver resolves actions from a fixed list of bindings. The
// most specific binding wins: tenant and client, then client, then tenant.
type StaticActionResolver struct {
	bindings []ActionBinding
}

// NewStaticActionResolver creates a resolver from bindings
func NewStaticActionResolver(bindings ...ActionBinding) *StaticActionResolver {
	return &StaticActionResolver{bindings: append([]ActionBinding(nil), bindings...)}
}

func (r *StaticActionResolver) ResolveAction(_ context.Context, tenant, clientID string) (*ActionConfig, error) {
	var best *ActionBinding
	bestScore := -1
	for i := range r.bindings {
		b := &r.bindings[i]
		if b.Tenant != "" && b.Tenant != tenant {
			continue
		}
		if b.ClientID != "" && b.ClientID != clientID {
			continue
		}
		score := 0
		if b.ClientID != "" {
			score += 2
		}
		if b.Tenant != "" {
			score++
		}
		if score > bestScore {
			best, bestScore = b, score
		}
	}
	if best == nil {
		return nil, nil
	}
	cfg := best.Action
	return &cfg, nil
}

var _ ActionResolver = (*StaticActionResolver)(nil)

// BasicIdentity is a plain Identity carrying optional profile claims.
type BasicIdentity struct {
	Subject      string         `toml:"id"`
	Login        string         `toml:"username"`
	EmailAddress string         `toml:"email"`
	RoleName     string         `toml:"role"`
	PasswordHash string         `toml:"password_hash"`
	Claims       map[string]any `toml:"claims"`
}

func (i BasicIdentity) ID() string       { return i.Subject }
func (i BasicIdentity) Username() string { return i.Login }
func (i BasicIdentity) Email() string    { return i.EmailAddress }
func (i BasicIdentity) Role() string     { return i.RoleName }

// ProfileClaims returns a copy of the identity claims
func (i BasicIdentity) ProfileClaims() map[string]any {
	return maps.Clone(i.Claims)
}

// StaticIdentityProvider is an in-memory IdentityProvider over bcrypt
// password hashes, meant for the reference daemon and tests.
type StaticIdentityProvider struct {
	byID       map[string]BasicIdentity
	byUsername map[string]BasicIdentity
}

// NewStaticIdentityProvider creates a provider for identities
func NewStaticIdentityProvider(identities ...BasicIdentity) *StaticIdentityProvider {
	p := &StaticIdentityProvider{
		byID:       make(map[string]BasicIdentity, len(identities)),
		byUsername: make(map[string]BasicIdentity, len(identities)),
	}
	for _, identity := range identities {
		p.byID[identity.Subject] = identity
		p.byUsername[identity.Login] = identity
	}
	return p
}

func (p *StaticIdentityProvider) VerifyIdentity(_ context.Context, identifier, password string) (Identity, error) {
	identity, ok := p.byUsername[identifier]
	if !ok || identity.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := CompareSecretAndHash(password, identity.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return identity, nil
}

func (p *StaticIdentityProvider) FindIdentity(_ context.Context, userID string) (Identity, error) {
	identity, ok := p.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return identity, nil
}

var _ IdentityProvider = (*StaticIdentityProvider)(nil)
