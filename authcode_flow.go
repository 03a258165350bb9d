package grants

import (
	"context"
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation"
)

// ResponseTypeCode is the only response type the authorize endpoint accepts.
const ResponseTypeCode = "code"

// AuthorizeRequest is the query of an authorize redirect.
type AuthorizeRequest struct {
	ResponseType string `query:"response_type" json:"response_type"`
	ClientID     string `query:"client_id" json:"client_id"`
	RedirectURI  string `query:"redirect_uri" json:"redirect_uri"`
	Scope        string `query:"scope" json:"scope"`
	State        string `query:"state" json:"state"`
}

// Validate will validate the request
func (r AuthorizeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ResponseType, validation.Required, validation.In(ResponseTypeCode)),
		validation.Field(&r.ClientID, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.RedirectURI, validation.Required, validation.Length(1, 2048)),
		validation.Field(&r.State, validation.Length(0, 1024)),
	)
}

// ExchangeRequest is an authorization_code token request.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Validate will validate the request
func (r ExchangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.ClientID, validation.Required),
		validation.Field(&r.RedirectURI, validation.Required),
	)
}

// AuthorizeResult is the outcome of a login or consent step. Code is set
// once the session reached CodeIssued.
type AuthorizeResult struct {
	Session *GrantSession
	Code    *AuthorizationCode
}

// RedirectURL returns the client redirect carrying the code and state.
func (r *AuthorizeResult) RedirectURL() (string, error) {
	if r == nil || r.Session == nil || r.Code == nil {
		return "", ErrInvalidSessionState
	}
	params := url.Values{}
	params.Set("code", r.Code.Code)
	if r.Session.State != "" {
		params.Set("state", r.Session.State)
	}
	return appendQuery(r.Session.RedirectURI, params)
}

// DeniedRedirectURL returns the client redirect for a denied session.
func DeniedRedirectURL(session *GrantSession) (string, error) {
	if session == nil {
		return "", ErrInvalidSessionState
	}
	params := url.Values{}
	params.Set("error", CodeAccessDenied)
	if session.State != "" {
		params.Set("state", session.State)
	}
	return appendQuery(session.RedirectURI, params)
}

func appendQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", WrapError(ErrInvalidRedirectURI, err, nil)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AuthCodeFlow drives authorize, login, consent and code exchange.
type AuthCodeFlow struct {
	flowOptions
	config     Config
	store      Store
	clients    ClientRegistry
	identities IdentityProvider
	issuer     Issuer
}

// NewAuthCodeFlow wires the authorization code grant
func NewAuthCodeFlow(cfg Config, store Store, clients ClientRegistry, identities IdentityProvider, issuer Issuer, opts ...Option) *AuthCodeFlow {
	return &AuthCodeFlow{
		flowOptions: defaultFlowOptions(opts),
		config:      cfg,
		store:       store,
		clients:     clients,
		identities:  identities,
		issuer:      issuer,
	}
}

// Authorize validates the client and redirect and opens a login session.
func (f *AuthCodeFlow) Authorize(ctx context.Context, req AuthorizeRequest) (*GrantSession, error) {
	if err := req.Validate(); err != nil {
		return nil, WrapError(ErrInvalidRequest, err, nil)
	}

	client, err := f.clients.FindClient(ctx, req.ClientID)
	if err != nil || client == nil {
		return nil, WrapError(ErrInvalidClient, err, map[string]any{"client_id": req.ClientID})
	}
	if !client.AllowsGrant(GrantTypeAuthorizationCode) {
		return nil, WrapError(ErrInvalidClient, nil, map[string]any{
			"client_id":  req.ClientID,
			"grant_type": GrantTypeAuthorizationCode,
		})
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, WrapError(ErrInvalidRedirectURI, nil, map[string]any{"redirect_uri": req.RedirectURI})
	}

	scopes := ParseScopes(req.Scope)
	if scopes.Len() == 0 {
		scopes = NewOrderedSet(client.DefaultScopes...)
	}
	if scopes.Len() == 0 {
		return nil, ErrInvalidScope
	}

	now := f.now()
	session := &GrantSession{
		Key:             f.codes.SessionKey(),
		Kind:            GrantKindAuthCodeLogin,
		ClientID:        client.ID,
		RedirectURI:     req.RedirectURI,
		State:           req.State,
		RequestedScopes: scopes.Values(),
		Status:          SessionAwaitingLogin,
		CreatedAt:       now,
		ExpiresAt:       now.Add(f.config.GetSessionTTL()),
	}
	if err := f.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionCreated,
		Actor:     ActorRef{ID: client.ID, Type: ActorTypeClient},
		ClientID:  client.ID,
		GrantType: GrantTypeAuthorizationCode,
		Metadata:  map[string]any{"session_key": session.Key, "scopes": session.RequestedScopes},
	})

	return session, nil
}

// CompleteLogin authenticates the resource owner for a session. A failed
// login leaves the session awaiting login so the user may retry until it
// expires.
func (f *AuthCodeFlow) CompleteLogin(ctx context.Context, sessionKey string, creds Credentials) (*AuthorizeResult, error) {
	session, err := f.loadSession(ctx, sessionKey, SessionAwaitingLogin)
	if err != nil {
		return nil, err
	}

	identity, err := f.identities.VerifyIdentity(ctx, creds.Identifier, creds.Password)
	if err != nil || identity == nil {
		f.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{ID: creds.Identifier, Type: ActorTypeUser},
			ClientID:  session.ClientID,
			GrantType: GrantTypeAuthorizationCode,
			Metadata:  map[string]any{"session_key": session.Key},
		})
		return nil, WrapError(ErrInvalidCredentials, err, nil)
	}

	client, err := f.clients.FindClient(ctx, session.ClientID)
	if err != nil || client == nil {
		return nil, WrapError(ErrInvalidClient, err, map[string]any{"client_id": session.ClientID})
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: identity.ID(), Type: ActorTypeUser},
		UserID:    identity.ID(),
		ClientID:  session.ClientID,
		GrantType: GrantTypeAuthorizationCode,
		Metadata:  map[string]any{"session_key": session.Key},
	})

	session.UserID = identity.ID()

	if client.SkipConsent {
		return f.issueCode(ctx, session, NewOrderedSet(session.RequestedScopes...))
	}

	if err := f.transition(ctx, session, SessionAwaitingConsent); err != nil {
		return nil, err
	}
	return &AuthorizeResult{Session: session}, nil
}

// CompleteConsent issues a code scoped to the requested scopes the user approved.
func (f *AuthCodeFlow) CompleteConsent(ctx context.Context, sessionKey string, approvedScopes []string) (*AuthorizeResult, error) {
	session, err := f.loadSession(ctx, sessionKey, SessionAwaitingConsent)
	if err != nil {
		return nil, err
	}

	granted := NewOrderedSet(session.RequestedScopes...).Intersect(NewOrderedSet(approvedScopes...))
	if granted.Len() == 0 {
		return nil, WrapError(ErrInvalidScope, nil, map[string]any{"reason": "no requested scope approved"})
	}

	return f.issueCode(ctx, session, granted)
}

// DenyConsent ends the session without a code.
func (f *AuthCodeFlow) DenyConsent(ctx context.Context, sessionKey string) (*GrantSession, error) {
	session, err := f.loadSession(ctx, sessionKey, SessionAwaitingConsent)
	if err != nil {
		return nil, err
	}

	if err := f.transition(ctx, session, SessionDenied); err != nil {
		return nil, err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventConsentDenied,
		Actor:     ActorRef{ID: session.UserID, Type: ActorTypeUser},
		UserID:    session.UserID,
		ClientID:  session.ClientID,
		GrantType: GrantTypeAuthorizationCode,
		Metadata:  map[string]any{"session_key": session.Key},
	})

	return session, nil
}

// ExchangeCode redeems an authorization code for a token. The code is
// reserved before issuance, consumed after it succeeds, and released if it
// fails, so a code yields at most one token.
func (f *AuthCodeFlow) ExchangeCode(ctx context.Context, req ExchangeRequest) (*IssuedToken, error) {
	if err := req.Validate(); err != nil {
		return nil, WrapError(ErrInvalidRequest, err, nil)
	}

	client, err := f.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil || client == nil {
		return nil, WrapError(ErrInvalidClient, err, map[string]any{"client_id": req.ClientID})
	}

	code, err := f.store.FindCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	now := f.now()
	switch {
	case code.Expired(now):
		return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "code expired"})
	case code.Status != CodeIssued:
		return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "code already used"})
	case code.ClientID != client.ID:
		return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "code issued to another client"})
	case code.RedirectURI != req.RedirectURI:
		return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "redirect uri mismatch"})
	}

	if err := f.moveCode(ctx, code, CodeInUse); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "code already used"})
		}
		return nil, err
	}

	token, err := f.issueFor(ctx, client, code)
	if err != nil {
		// release even when ctx is cancelled
		if rerr := f.moveCode(context.WithoutCancel(ctx), code, CodeIssued); rerr != nil {
			f.logger.Error("failed to release authorization code for client %s: %v", client.ID, rerr)
		}
		return nil, err
	}

	if err := f.moveCode(context.WithoutCancel(ctx), code, CodeConsumed); err != nil {
		f.logger.Error("failed to consume authorization code for client %s: %v", client.ID, err)
	}

	f.markExchanged(ctx, code.SessionKey)

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventCodeExchanged,
		Actor:     ActorRef{ID: client.ID, Type: ActorTypeClient},
		UserID:    code.UserID,
		ClientID:  client.ID,
		GrantType: GrantTypeAuthorizationCode,
		Metadata:  map[string]any{"session_key": code.SessionKey},
	})

	return token, nil
}

func (f *AuthCodeFlow) issueFor(ctx context.Context, client *Client, code *AuthorizationCode) (*IssuedToken, error) {
	identity, err := f.identities.FindIdentity(ctx, code.UserID)
	if err != nil || identity == nil {
		return nil, WrapError(ErrInvalidGrant, err, map[string]any{"reason": "resource owner not found"})
	}

	return f.issuer.Issue(ctx, GrantContext{
		UserID:    code.UserID,
		ClientID:  client.ID,
		Tenant:    client.Tenant,
		GrantType: GrantTypeAuthorizationCode,
		Scopes:    NewOrderedSet(code.Scopes...),
		Identity:  identity,
		Client:    client,
	})
}

func (f *AuthCodeFlow) issueCode(ctx context.Context, session *GrantSession, scopes OrderedSet) (*AuthorizeResult, error) {
	value, err := f.codes.AuthorizationCode()
	if err != nil {
		return nil, err
	}

	from := session.Status
	if err := f.transition(ctx, session, SessionCodeIssued); err != nil {
		return nil, err
	}

	now := f.now()
	code := &AuthorizationCode{
		Code:        value,
		SessionKey:  session.Key,
		ClientID:    session.ClientID,
		UserID:      session.UserID,
		Scopes:      scopes.Values(),
		RedirectURI: session.RedirectURI,
		Status:      CodeIssued,
		IssuedAt:    now,
		ExpiresAt:   now.Add(f.config.GetAuthCodeTTL()),
	}
	if err := f.store.CreateCode(ctx, code); err != nil {
		f.restoreSession(ctx, session, from)
		return nil, err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventCodeIssued,
		Actor:     ActorRef{ID: session.UserID, Type: ActorTypeUser},
		UserID:    session.UserID,
		ClientID:  session.ClientID,
		GrantType: GrantTypeAuthorizationCode,
		Metadata:  map[string]any{"session_key": session.Key, "scopes": code.Scopes},
	})

	return &AuthorizeResult{Session: session, Code: code}, nil
}

// restoreSession puts a session back where it was when its code could not
// be stored, so the user can retry the step.
func (f *AuthCodeFlow) restoreSession(ctx context.Context, session *GrantSession, from SessionStatus) {
	session.Status = from
	session.Consumed = false
	if err := f.store.UpdateSession(context.WithoutCancel(ctx), session); err != nil {
		f.logger.Error("failed to restore session %s to %s: %v", session.Key, from, err)
	}
}

func (f *AuthCodeFlow) loadSession(ctx context.Context, key string, want SessionStatus) (*GrantSession, error) {
	session, err := f.store.FindSession(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "unknown session"})
		}
		return nil, err
	}
	if session.Expired(f.now()) {
		return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "session expired"})
	}
	if session.Status != want {
		return nil, WrapError(ErrInvalidSessionState, nil, map[string]any{
			"status":   string(session.Status),
			"expected": string(want),
		})
	}
	return session, nil
}

func (f *AuthCodeFlow) transition(ctx context.Context, session *GrantSession, to SessionStatus) error {
	from := session.Status
	if !sessionTransitions.allows(from, to) {
		return invalidTransition(from, to)
	}
	session.Status = to
	session.Consumed = to == SessionExchanged || to == SessionDenied
	if err := f.store.UpdateSession(ctx, session); err != nil {
		session.Status = from
		if errors.Is(err, ErrConflict) {
			return invalidTransition(from, to)
		}
		return err
	}
	return nil
}

func (f *AuthCodeFlow) moveCode(ctx context.Context, code *AuthorizationCode, to CodeStatus) error {
	from := code.Status
	if !codeTransitions.allows(from, to) {
		return invalidTransition(from, to)
	}
	code.Status = to
	if err := f.store.UpdateCode(ctx, code); err != nil {
		code.Status = from
		return err
	}
	return nil
}

func (f *AuthCodeFlow) markExchanged(ctx context.Context, key string) {
	session, err := f.store.FindSession(ctx, key)
	if err != nil {
		return
	}
	if session.Status != SessionCodeIssued {
		return
	}
	if err := f.transition(context.WithoutCancel(ctx), session, SessionExchanged); err != nil {
		f.logger.Warn("failed to mark session %s exchanged: %v", key, err)
	}
}
