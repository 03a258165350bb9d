package grants

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated resource owner
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() string
}

// ProfileClaimsProvider is an optional Identity capability. Claims it returns
// are added to every access token minted for the identity.
type ProfileClaimsProvider interface {
	ProfileClaims() map[string]any
}

// Credentials carries what the resource owner typed into the login form.
type Credentials struct {
	Identifier string
	Password   string
}

// Client is a registered OAuth2 client as seen by the engine.
type Client struct {
	ID             string
	Name           string
	Tenant         string
	SecretHash     string
	Public         bool
	RedirectURIs   []string
	DefaultScopes  []string
	GrantTypes     []string
	SkipConsent    bool
	AccessTokenTTL time.Duration
}

// AllowsRedirect reports whether uri is registered for the client. Matching
// is exact.
func (c *Client) AllowsRedirect(uri string) bool {
	if c == nil {
		return false
	}
	for _, candidate := range c.RedirectURIs {
		if candidate == uri {
			return true
		}
	}
	return false
}

// AllowsGrant reports whether the client may use grantType. An empty list
// allows every grant the engine supports.
func (c *Client) AllowsGrant(grantType string) bool {
	if c == nil {
		return false
	}
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// ClientRegistry resolves and authenticates OAuth2 clients
type ClientRegistry interface {
	FindClient(ctx context.Context, clientID string) (*Client, error)
	AuthenticateClient(ctx context.Context, clientID, secret string) (*Client, error)
}

// IdentityProvider ensure we have a store to retrieve the resource owner
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error)
	FindIdentity(ctx context.Context, userID string) (Identity, error)
}

// ActionResolver returns the pre-issue action configured for a tenant and
// client. A nil config with a nil error means no action is configured.
type ActionResolver interface {
	ResolveAction(ctx context.Context, tenant, clientID string) (*ActionConfig, error)
}

// ActionInvoker calls a pre-issue action and returns the operations it asked for.
type ActionInvoker interface {
	Invoke(ctx context.Context, cfg ActionConfig, event ActionEvent) ([]Operation, error)
}

// Authentication schemes supported for outbound action calls.
const (
	ActionAuthNone   = "none"
	ActionAuthBasic  = "basic"
	ActionAuthBearer = "bearer"
	ActionAuthAPIKey = "api_key"
)

// ActionAuth configures how the engine authenticates to an action endpoint.
type ActionAuth struct {
	Type     string `json:"type" toml:"type"`
	Username string `json:"username,omitempty" toml:"username"`
	Password string `json:"-" toml:"password"`
	Token    string `json:"-" toml:"token"`
	Header   string `json:"header,omitempty" toml:"header"`
	Key      string `json:"-" toml:"key"`
}

// ActionConfig describes one external pre-issue action endpoint.
type ActionConfig struct {
	ID            string        `json:"id" toml:"id"`
	Name          string        `json:"name" toml:"name"`
	Endpoint      string        `json:"endpoint" toml:"endpoint"`
	Auth          ActionAuth    `json:"auth" toml:"auth"`
	Timeout       time.Duration `json:"timeout" toml:"timeout"`
	MaxOperations int           `json:"max_operations" toml:"max_operations"`
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] GRANTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] GRANTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] GRANTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] GRANTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
