package action

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-grants"
)

// DefaultAPIKeyHeader is used when an api_key action does not name a header.
const DefaultAPIKeyHeader = "X-API-Key"

// Authenticator decorates an outbound action request with credentials.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// AuthenticatorFunc adapts a function to Authenticator
type AuthenticatorFunc func(req *http.Request) error

func (f AuthenticatorFunc) Authenticate(req *http.Request) error { return f(req) }

// None sends the request as is.
func None() Authenticator {
	return AuthenticatorFunc(func(*http.Request) error { return nil })
}

// Basic sets HTTP basic credentials.
func Basic(username, password string) Authenticator {
	return AuthenticatorFunc(func(req *http.Request) error {
		req.SetBasicAuth(username, password)
		return nil
	})
}

// Bearer sets an Authorization bearer token.
func Bearer(token string) Authenticator {
	return AuthenticatorFunc(func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// APIKey sets key on header, DefaultAPIKeyHeader when header is empty.
func APIKey(header, key string) Authenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return AuthenticatorFunc(func(req *http.Request) error {
		req.Header.Set(header, key)
		return nil
	})
}

// NewAuthenticator selects the authenticator for an action auth config.
func NewAuthenticator(auth grants.ActionAuth) (Authenticator, error) {
	switch strings.ToLower(auth.Type) {
	case "", grants.ActionAuthNone:
		return None(), nil
	case grants.ActionAuthBasic:
		if auth.Username == "" {
			return nil, fmt.Errorf("basic action auth requires a username")
		}
		return Basic(auth.Username, auth.Password), nil
	case grants.ActionAuthBearer:
		if auth.Token == "" {
			return nil, fmt.Errorf("bearer action auth requires a token")
		}
		return Bearer(auth.Token), nil
	case grants.ActionAuthAPIKey:
		if auth.Key == "" {
			return nil, fmt.Errorf("api_key action auth requires a key")
		}
		return APIKey(auth.Header, auth.Key), nil
	}
	return nil, fmt.Errorf("unknown action auth type %q", auth.Type)
}
