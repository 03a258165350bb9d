package grants

import (
	"context"
	"maps"
	"slices"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// TokenTypeBearer is the only token type the engine issues.
const TokenTypeBearer = "Bearer"

// EventTypePreIssueAccessToken is the event type sent to pre-issue actions.
const EventTypePreIssueAccessToken = "PRE_ISSUE_ACCESS_TOKEN"

// GrantContext is everything the issuer needs to mint a token for a grant.
type GrantContext struct {
	UserID    string
	ClientID  string
	Tenant    string
	GrantType string
	Scopes    OrderedSet
	Claims    map[string]any
	Identity  Identity
	Client    *Client
}

// IssuedToken is a signed access token and the state it was signed from.
type IssuedToken struct {
	AccessToken string
	TokenType   string
	Scopes      []string
	Audience    []string
	Claims      map[string]any
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// ExpiresIn returns the lifetime in whole seconds.
func (t *IssuedToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.IssuedAt) / time.Second)
}

// ActionEvent is the payload posted to a pre-issue action.
type ActionEvent struct {
	EventType   string            `json:"eventType"`
	GrantType   string            `json:"grantType"`
	Tenant      *ActionTenant     `json:"tenant,omitempty"`
	User        *ActionUser       `json:"user,omitempty"`
	Client      ActionClient      `json:"client"`
	AccessToken ActionAccessToken `json:"accessToken"`
}

type ActionTenant struct {
	ID string `json:"id"`
}

type ActionUser struct {
	ID string `json:"id"`
}

type ActionClient struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ActionAccessToken is the token as the action sees it before mutation.
type ActionAccessToken struct {
	Scopes []string      `json:"scopes"`
	Claims []ActionClaim `json:"claims"`
}

type ActionClaim struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// IssuerOption customizes the token issuer.
type IssuerOption func(*TokenIssuer)

// WithIssuerClock injects a custom clock (useful for tests).
func WithIssuerClock(clock func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if clock != nil {
			i.now = clock
		}
	}
}

// WithPreIssueActions enables the pre-issue extension point.
func WithPreIssueActions(resolver ActionResolver, invoker ActionInvoker) IssuerOption {
	return func(i *TokenIssuer) {
		i.resolver = resolver
		i.invoker = invoker
	}
}

// WithIssuerLogger sets the logger used for action and signing failures.
func WithIssuerLogger(logger Logger) IssuerOption {
	return func(i *TokenIssuer) {
		i.logger = normalizeLogger(logger)
	}
}

// WithIssuerActivitySink sets the sink receiving token issued and action
// failed events.
func WithIssuerActivitySink(sink ActivitySink) IssuerOption {
	return func(i *TokenIssuer) {
		i.activity = normalizeActivitySink(sink)
	}
}

// TokenIssuer builds default claims, runs the configured pre-issue action,
// applies its operations, and signs the result.
type TokenIssuer struct {
	config   Config
	tokens   TokenService
	resolver ActionResolver
	invoker  ActionInvoker
	logger   Logger
	activity ActivitySink
	now      func() time.Time
}

// NewTokenIssuer creates an issuer that signs with tokens.
func NewTokenIssuer(cfg Config, tokens TokenService, opts ...IssuerOption) *TokenIssuer {
	i := &TokenIssuer{
		config:   cfg,
		tokens:   tokens,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// Issue mints an access token for gc. When an action is configured for the
// tenant and client and it fails in any way, no token is issued.
func (i *TokenIssuer) Issue(ctx context.Context, gc GrantContext) (*IssuedToken, error) {
	state := i.DefaultState(gc)

	ops, err := i.runAction(ctx, gc, state)
	if err == nil && len(ops) > 0 {
		var mutated TokenState
		if mutated, err = Apply(state, ops); err != nil {
			i.logger.Error("pre-issue operations rejected for client %s: %v", gc.ClientID, err)
			err = actionFailure(err)
		} else {
			state = mutated
		}
	}
	if err != nil {
		recordActivity(ctx, i.activity, i.logger, ActivityEvent{
			EventType:  ActivityEventActionFailed,
			Actor:      ActorRef{ID: gc.ClientID, Type: ActorTypeClient},
			UserID:     gc.UserID,
			ClientID:   gc.ClientID,
			GrantType:  gc.GrantType,
			Metadata:   map[string]any{"error": ErrorCode(err)},
			OccurredAt: i.now(),
		})
		return nil, err
	}

	ensureTokenID(&state)

	signed, err := i.tokens.Sign(state)
	if err != nil {
		return nil, err
	}

	token := &IssuedToken{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		Scopes:      state.Scopes.Values(),
		Audience:    state.Audience.Values(),
		Claims:      map[string]any(state.MapClaims()),
		IssuedAt:    state.IssuedAt,
		ExpiresAt:   state.ExpiresAt,
	}

	recordActivity(ctx, i.activity, i.logger, ActivityEvent{
		EventType: ActivityEventTokenIssued,
		Actor:     ActorRef{ID: gc.ClientID, Type: ActorTypeClient},
		UserID:    gc.UserID,
		ClientID:  gc.ClientID,
		GrantType: gc.GrantType,
		Metadata: map[string]any{
			"jti":        state.TokenID,
			"scopes":     token.Scopes,
			"operations": len(ops),
		},
		OccurredAt: state.IssuedAt,
	})

	return token, nil
}

// DefaultState builds the token the grant earns before any action runs.
func (i *TokenIssuer) DefaultState(gc GrantContext) TokenState {
	issuedAt := i.now().UTC().Truncate(time.Second)

	ttl := i.config.GetAccessTokenTTL()
	if gc.Client != nil && gc.Client.AccessTokenTTL > 0 {
		ttl = gc.Client.AccessTokenTTL
	}

	claims := map[string]any{}
	if gc.Identity != nil {
		if profile, ok := gc.Identity.(ProfileClaimsProvider); ok {
			maps.Copy(claims, profile.ProfileClaims())
		}
	}
	maps.Copy(claims, gc.Claims)
	for name := range claims {
		if IsProtectedClaim(name) || name == ClaimAudience || name == ClaimExpiresIn {
			delete(claims, name)
		}
	}

	return TokenState{
		Issuer:    i.config.GetIssuer(),
		Subject:   gc.UserID,
		ClientID:  gc.ClientID,
		Scopes:    gc.Scopes.Clone(),
		Audience:  NewOrderedSet(gc.ClientID),
		Claims:    claims,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}
}

func (i *TokenIssuer) runAction(ctx context.Context, gc GrantContext, state TokenState) ([]Operation, error) {
	if i.resolver == nil {
		return nil, nil
	}

	cfg, err := i.resolver.ResolveAction(ctx, gc.Tenant, gc.ClientID)
	if err != nil {
		return nil, actionFailure(err)
	}
	if cfg == nil {
		return nil, nil
	}
	if i.invoker == nil {
		return nil, WrapError(ErrActionExecutionFailed, nil, map[string]any{
			"action": cfg.ID,
			"reason": "no invoker configured",
		})
	}

	ops, err := i.invoker.Invoke(ctx, *cfg, BuildActionEvent(gc, state))
	if err != nil {
		i.logger.Error("pre-issue action %s failed for client %s: %v", cfg.ID, gc.ClientID, err)
		return nil, actionFailure(err)
	}

	i.logger.Debug("pre-issue action %s returned %d operations", cfg.ID, len(ops))
	return ops, nil
}

// BuildActionEvent renders the event an action receives for gc.
func BuildActionEvent(gc GrantContext, state TokenState) ActionEvent {
	event := ActionEvent{
		EventType: EventTypePreIssueAccessToken,
		GrantType: gc.GrantType,
		Client:    ActionClient{ID: gc.ClientID},
		AccessToken: ActionAccessToken{
			Scopes: state.Scopes.Values(),
			Claims: eventClaims(state),
		},
	}
	if gc.Client != nil {
		event.Client.Name = gc.Client.Name
	}
	if gc.Tenant != "" {
		event.Tenant = &ActionTenant{ID: gc.Tenant}
	}
	if gc.UserID != "" {
		event.User = &ActionUser{ID: gc.UserID}
	}
	return event
}

func eventClaims(state TokenState) []ActionClaim {
	claims := []ActionClaim{
		{Name: ClaimIssuer, Value: state.Issuer},
		{Name: ClaimClientID, Value: state.ClientID},
		{Name: ClaimAudience, Value: state.Audience.Values()},
		{Name: ClaimExpiresIn, Value: int64(state.TTL() / time.Second)},
	}
	if state.Subject != "" {
		claims = append(claims, ActionClaim{Name: ClaimSubject, Value: state.Subject})
	}

	names := slices.Sorted(maps.Keys(state.Claims))
	for _, name := range names {
		claims = append(claims, ActionClaim{Name: name, Value: state.Claims[name]})
	}
	return claims
}

func actionFailure(err error) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == CodeActionExecutionFailed {
		return err
	}
	return WrapError(ErrActionExecutionFailed, err, map[string]any{
		"cause": ErrorCode(err),
	})
}
