package grants

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// LoginPage receives the session_key after a successful authorize (default: "/login")
	LoginPage string

	// ConsentPage receives the session_key once the user logged in (default: "/consent")
	ConsentPage string

	// Realm used in WWW-Authenticate for invalid_client (default: "oauth2")
	Realm string

	// TokenGuard validates bearer tokens in front of /userinfo. The route is
	// only registered when set.
	TokenGuard router.MiddlewareFunc

	// ClaimsKey is the locals key TokenGuard stores claims under (default: "claims")
	ClaimsKey string
}

// HTTPController exposes the grant flows over OAuth2 endpoints.
type HTTPController struct {
	authCode *AuthCodeFlow
	device   *DeviceFlow
	clients  ClientRegistry
	config   HTTPConfig
	logger   Logger
}

// NewHTTPController creates the OAuth2 endpoint controller.
func NewHTTPController(authCode *AuthCodeFlow, device *DeviceFlow, clients ClientRegistry, cfg HTTPConfig, logger Logger) *HTTPController {
	if cfg.LoginPage == "" {
		cfg.LoginPage = "/login"
	}
	if cfg.ConsentPage == "" {
		cfg.ConsentPage = "/consent"
	}
	if cfg.Realm == "" {
		cfg.Realm = "oauth2"
	}
	if cfg.ClaimsKey == "" {
		cfg.ClaimsKey = "claims"
	}

	return &HTTPController{
		authCode: authCode,
		device:   device,
		clients:  clients,
		config:   cfg,
		logger:   normalizeLogger(logger),
	}
}

// RegisterRoutes registers the OAuth2 routes, relative to the group.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/authorize", c.Authorize)
	group.Post("/authorize/login", c.Login)
	group.Post("/authorize/consent", c.Consent)
	group.Post("/device_authorize", c.DeviceAuthorize)
	group.Post("/device", c.DeviceVerify)
	group.Post("/token", c.Token)
	if c.config.TokenGuard != nil {
		group.Get("/userinfo", c.UserInfo, c.config.TokenGuard)
	}
}

// Authorize opens a session and sends the user agent to the login page.
// Errors are never redirected since the redirect uri is not trusted yet.
func (c *HTTPController) Authorize(ctx router.Context) error {
	req := AuthorizeRequest{
		ResponseType: ctx.Query("response_type"),
		ClientID:     ctx.Query("client_id"),
		RedirectURI:  ctx.Query("redirect_uri"),
		Scope:        ctx.Query("scope"),
		State:        ctx.Query("state"),
	}

	session, err := c.authCode.Authorize(ctx.Context(), req)
	if err != nil {
		return c.writeError(ctx, err)
	}

	target, err := appendQuery(c.config.LoginPage, url.Values{"session_key": {session.Key}})
	if err != nil {
		return c.writeError(ctx, err)
	}
	return ctx.Redirect(target, http.StatusFound)
}

// Login completes the login step of a session.
func (c *HTTPController) Login(ctx router.Context) error {
	sessionKey := ctx.FormValue("session_key")
	creds := Credentials{
		Identifier: ctx.FormValue("username"),
		Password:   ctx.FormValue("password"),
	}

	result, err := c.authCode.CompleteLogin(ctx.Context(), sessionKey, creds)
	if err != nil {
		return c.writeError(ctx, err)
	}

	if result.Code != nil {
		return c.redirectWithCode(ctx, result)
	}

	target, err := appendQuery(c.config.ConsentPage, url.Values{
		"session_key": {result.Session.Key},
		"scope":       {strings.Join(result.Session.RequestedScopes, " ")},
	})
	if err != nil {
		return c.writeError(ctx, err)
	}
	return ctx.Redirect(target, http.StatusFound)
}

// Consent records the user's consent decision.
func (c *HTTPController) Consent(ctx router.Context) error {
	sessionKey := ctx.FormValue("session_key")

	if !formBool(ctx.FormValue("approve")) {
		session, err := c.authCode.DenyConsent(ctx.Context(), sessionKey)
		if err != nil {
			return c.writeError(ctx, err)
		}
		target, err := DeniedRedirectURL(session)
		if err != nil {
			return c.writeError(ctx, err)
		}
		return ctx.Redirect(target, http.StatusFound)
	}

	approved := strings.Fields(ctx.FormValue("scope"))
	result, err := c.authCode.CompleteConsent(ctx.Context(), sessionKey, approved)
	if err != nil {
		return c.writeError(ctx, err)
	}
	return c.redirectWithCode(ctx, result)
}

// DeviceAuthorize starts a device authorization.
func (c *HTTPController) DeviceAuthorize(ctx router.Context) error {
	clientID := ctx.FormValue("client_id")
	scopes := strings.Fields(ctx.FormValue("scope"))

	auth, err := c.device.InitiateDeviceAuth(ctx.Context(), clientID, scopes)
	if err != nil {
		return c.writeError(ctx, err)
	}

	c.noStore(ctx)
	return ctx.JSON(router.StatusOK, map[string]any{
		"device_code":               auth.DeviceCode,
		"user_code":                 auth.UserCode,
		"verification_uri":          auth.VerificationURI,
		"verification_uri_complete": auth.VerificationURIComplete,
		"expires_in":                auth.ExpiresIn,
		"interval":                  auth.Interval,
	})
}

// DeviceVerify lets a logged in user approve or deny a device by user code.
func (c *HTTPController) DeviceVerify(ctx router.Context) error {
	userCode := ctx.FormValue("user_code")
	creds := Credentials{
		Identifier: ctx.FormValue("username"),
		Password:   ctx.FormValue("password"),
	}

	var (
		device *DeviceCode
		err    error
	)
	if formBool(ctx.FormValue("approve")) {
		device, err = c.device.VerifyUserCode(ctx.Context(), userCode, creds)
	} else {
		device, err = c.device.RejectUserCode(ctx.Context(), userCode, creds)
	}
	if err != nil {
		return c.writeError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status":    string(device.Status),
		"client_id": device.ClientID,
	})
}

// Token dispatches on grant_type.
func (c *HTTPController) Token(ctx router.Context) error {
	clientID, clientSecret := c.clientCredentials(ctx)

	var (
		token *IssuedToken
		err   error
	)

	switch grantType := ctx.FormValue("grant_type"); grantType {
	case GrantTypeAuthorizationCode:
		token, err = c.authCode.ExchangeCode(ctx.Context(), ExchangeRequest{
			Code:         ctx.FormValue("code"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  ctx.FormValue("redirect_uri"),
		})

	case GrantTypeDeviceCode:
		if clientSecret != "" {
			if _, aerr := c.clients.AuthenticateClient(ctx.Context(), clientID, clientSecret); aerr != nil {
				return c.writeError(ctx, WrapError(ErrInvalidClient, aerr, nil))
			}
		}
		token, err = c.device.PollToken(ctx.Context(), ctx.FormValue("device_code"), clientID)

	case "":
		err = WrapError(ErrInvalidRequest, nil, map[string]any{"reason": "grant_type is required"})

	default:
		err = WrapError(ErrUnsupportedGrantType, nil, map[string]any{"grant_type": grantType})
	}

	if err != nil {
		return c.writeError(ctx, err)
	}

	c.noStore(ctx)
	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"expires_in":   token.ExpiresIn(),
		"scope":        strings.Join(token.Scopes, " "),
	})
}

// UserInfo returns the subject and profile claims of the bearer token
// validated by TokenGuard.
func (c *HTTPController) UserInfo(ctx router.Context) error {
	claims, ok := ctx.Locals(c.config.ClaimsKey).(jwt.MapClaims)
	if !ok {
		ctx.SetHeader("WWW-Authenticate", `Bearer realm="`+c.config.Realm+`"`)
		return ctx.JSON(http.StatusUnauthorized, map[string]any{
			"error":             "invalid_token",
			"error_description": "no validated access token",
		})
	}

	c.noStore(ctx)
	return ctx.JSON(router.StatusOK, UserInfoClaims(claims))
}

// UserInfoClaims drops the protocol claims of an access token, keeping sub
// and everything describing the user.
func UserInfoClaims(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for name, value := range claims {
		if name != ClaimSubject && (IsProtectedClaim(name) || name == ClaimAudience || name == ClaimExpiresIn) {
			continue
		}
		out[name] = value
	}
	return out
}

func (c *HTTPController) redirectWithCode(ctx router.Context, result *AuthorizeResult) error {
	target, err := result.RedirectURL()
	if err != nil {
		return c.writeError(ctx, err)
	}
	return ctx.Redirect(target, http.StatusFound)
}

func (c *HTTPController) writeError(ctx router.Context, err error) error {
	code := ErrorCode(err)
	status := HTTPStatus(err)

	if status >= http.StatusInternalServerError {
		c.logger.Error("oauth2 request failed: %v", err)
	} else {
		c.logger.Debug("oauth2 request rejected: %v", err)
	}

	if code == CodeInvalidClient {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="`+c.config.Realm+`"`)
	}
	c.noStore(ctx)

	return ctx.JSON(status, map[string]any{
		"error":             code,
		"error_description": ErrorDescription(err),
	})
}

func (c *HTTPController) noStore(ctx router.Context) {
	ctx.SetHeader("Cache-Control", "no-store")
	ctx.SetHeader("Pragma", "no-cache")
}

// clientCredentials reads HTTP Basic credentials, falling back to the form.
func (c *HTTPController) clientCredentials(ctx router.Context) (string, string) {
	if id, secret, ok := parseBasicAuth(ctx.GetString("Authorization", "")); ok {
		return id, secret
	}
	return ctx.FormValue("client_id"), ctx.FormValue("client_secret")
}

func parseBasicAuth(header string) (string, string, bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}

	id, secret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}

	// client credentials are form-urlencoded before being base64 encoded
	if unescaped, err := url.QueryUnescape(id); err == nil {
		id = unescaped
	}
	if unescaped, err := url.QueryUnescape(secret); err == nil {
		secret = unescaped
	}
	return id, secret, id != ""
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "approve":
		return true
	}
	return false
}
