package jwtware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization

	ErrTokenMissingOrMalformed = errors.New("missing or malformed bearer token")
	ErrInsufficientScope       = errors.New("token is missing a required scope")
)

// TokenValidator verifies a raw access token and returns its claims.
// grants.TokenServiceImpl satisfies it.
type TokenValidator interface {
	Validate(tokenString string) (jwt.MapClaims, error)
}

// ValidationListener is invoked after a token has been validated but before scope checks.
type ValidationListener func(ctx router.Context, claims jwt.MapClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// ContextKey is the locals key validated claims are stored under (default: "claims")
	ContextKey string
	// TokenLookup is a comma separated list of source:name pairs,
	// e.g. "header:Authorization,query:access_token"
	TokenLookup string
	AuthScheme  string
	// Realm is reported in WWW-Authenticate challenges (default: "oauth2")
	Realm string

	// TokenValidator is required
	TokenValidator TokenValidator

	// RequiredScopes must all be present in the token's scope claim
	RequiredScopes []string

	// ContextEnricher propagates claims to the standard context.
	ContextEnricher func(c context.Context, claims jwt.MapClaims) context.Context

	ValidationListeners []ValidationListener
}

// New returns a middleware accepting RFC 6750 bearer tokens.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if missing := MissingScopes(claims, cfg.RequiredScopes); len(missing) > 0 {
				return cfg.ErrorHandler(ctx, &ScopeError{Missing: missing})
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// ScopeError lists the required scopes a token lacks.
type ScopeError struct {
	Missing []string
}

func (e *ScopeError) Error() string {
	return ErrInsufficientScope.Error() + ": " + strings.Join(e.Missing, " ")
}

func (e *ScopeError) Unwrap() error { return ErrInsufficientScope }

// MissingScopes returns the entries of required not granted by the scope claim.
func MissingScopes(claims jwt.MapClaims, required []string) []string {
	if len(required) == 0 {
		return nil
	}

	granted := map[string]struct{}{}
	if scope, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			granted[s] = struct{}{}
		}
	}

	var missing []string
	for _, s := range required {
		if _, ok := granted[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// ClaimsFromContext returns the claims stored by the middleware under key.
func ClaimsFromContext(ctx router.Context, key string) (jwt.MapClaims, bool) {
	if key == "" {
		key = "claims"
	}
	claims, ok := ctx.Locals(key).(jwt.MapClaims)
	return claims, ok
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("GRANTS: bearer middleware configuration: TokenValidator is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "claims"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Realm == "" {
		cfg.Realm = "oauth2"
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = ChallengeErrorHandler(cfg.Realm)
	}

	return cfg
}

// ChallengeErrorHandler answers with the RFC 6750 WWW-Authenticate challenge
// matching err.
func ChallengeErrorHandler(realm string) router.ErrorHandler {
	return func(c router.Context, err error) error {
		challenge := `Bearer realm="` + realm + `"`
		status := http.StatusUnauthorized
		body := map[string]any{}

		var scopeErr *ScopeError
		switch {
		case errors.As(err, &scopeErr):
			status = http.StatusForbidden
			challenge += `, error="insufficient_scope", scope="` + strings.Join(scopeErr.Missing, " ") + `"`
			body["error"] = "insufficient_scope"
		case errors.Is(err, ErrTokenMissingOrMalformed):
			// the challenge carries no error code when no credentials were sent
			body["error"] = "invalid_request"
		default:
			challenge += `, error="invalid_token"`
			body["error"] = "invalid_token"
		}
		body["error_description"] = err.Error()

		c.SetHeader("WWW-Authenticate", challenge)
		return c.JSON(status, body)
	}
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims jwt.MapClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	// header:Authorization,cookie:access_token,query:access_token,param:token
	for _, rootPart := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(rootPart), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)

		switch strings.TrimSpace(source) {
		case "header":
			extractors = append(extractors, tokenFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(name))
		case "param":
			extractors = append(extractors, tokenFromParam(name))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(name))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader extracts "<scheme> <token>" from the request header.
func tokenFromHeader(header string, authScheme string) TokenExtractor {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			return "", ErrTokenMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromParam(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}
