package grants

import (
	"context"
	"errors"
	"net/url"
	"time"
)

const (
	maxUserCodeAttempts = 5
	maxPollAttempts     = 5
)

// DeviceAuthorization is the device_authorize response.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// DeviceFlow drives the device authorization grant.
type DeviceFlow struct {
	flowOptions
	config     Config
	store      Store
	clients    ClientRegistry
	identities IdentityProvider
	issuer     Issuer
}

// NewDeviceFlow wires the device authorization grant
func NewDeviceFlow(cfg Config, store Store, clients ClientRegistry, identities IdentityProvider, issuer Issuer, opts ...Option) *DeviceFlow {
	return &DeviceFlow{
		flowOptions: defaultFlowOptions(opts),
		config:      cfg,
		store:       store,
		clients:     clients,
		identities:  identities,
		issuer:      issuer,
	}
}

// InitiateDeviceAuth registers a pending device code for clientID.
func (f *DeviceFlow) InitiateDeviceAuth(ctx context.Context, clientID string, scopes []string) (*DeviceAuthorization, error) {
	if clientID == "" {
		return nil, WrapError(ErrInvalidRequest, nil, map[string]any{"reason": "client_id is required"})
	}

	client, err := f.clients.FindClient(ctx, clientID)
	if err != nil || client == nil {
		return nil, WrapError(ErrInvalidClient, err, map[string]any{"client_id": clientID})
	}
	if !client.AllowsGrant(GrantTypeDeviceCode) {
		return nil, WrapError(ErrInvalidClient, nil, map[string]any{
			"client_id":  clientID,
			"grant_type": GrantTypeDeviceCode,
		})
	}

	requested := NewOrderedSet(scopes...)
	if requested.Len() == 0 {
		requested = NewOrderedSet(client.DefaultScopes...)
	}
	if requested.Len() == 0 {
		return nil, ErrInvalidScope
	}

	deviceCode, err := f.codes.DeviceCode()
	if err != nil {
		return nil, err
	}

	now := f.now()
	device := &DeviceCode{
		DeviceCode:   deviceCode,
		ClientID:     client.ID,
		Scopes:       requested.Values(),
		Status:       DevicePending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.config.GetDeviceCodeTTL()),
		PollInterval: f.config.GetPollInterval(),
	}

	for attempt := 0; ; attempt++ {
		device.UserCode, err = f.codes.UserCode(f.config.GetUserCodeLength())
		if err != nil {
			return nil, err
		}
		err = f.store.CreateDeviceCode(ctx, device)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) || attempt+1 >= maxUserCodeAttempts {
			return nil, err
		}
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventDeviceInitiated,
		Actor:     ActorRef{ID: client.ID, Type: ActorTypeClient},
		ClientID:  client.ID,
		GrantType: GrantTypeDeviceCode,
		Metadata:  map[string]any{"scopes": device.Scopes},
	})

	return &DeviceAuthorization{
		DeviceCode:              device.DeviceCode,
		UserCode:                FormatUserCode(device.UserCode),
		VerificationURI:         f.config.GetVerificationURI(),
		VerificationURIComplete: f.verificationURIComplete(device.UserCode),
		ExpiresIn:               int64(f.config.GetDeviceCodeTTL() / time.Second),
		Interval:                int64(device.PollInterval / time.Second),
	}, nil
}

// ApproveByUserCode moves a pending device code to approved for userID.
func (f *DeviceFlow) ApproveByUserCode(ctx context.Context, userCode, userID string) (*DeviceCode, error) {
	if userID == "" {
		return nil, WrapError(ErrInvalidRequest, nil, map[string]any{"reason": "user id is required"})
	}
	device, err := f.actionUserCode(ctx, userCode, DeviceApproved, userID)
	if err != nil {
		return nil, err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventDeviceApproved,
		Actor:     ActorRef{ID: userID, Type: ActorTypeUser},
		UserID:    userID,
		ClientID:  device.ClientID,
		GrantType: GrantTypeDeviceCode,
	})
	return device, nil
}

// DenyByUserCode moves a pending device code to denied.
func (f *DeviceFlow) DenyByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	device, err := f.actionUserCode(ctx, userCode, DeviceDenied, "")
	if err != nil {
		return nil, err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventDeviceDenied,
		ClientID:  device.ClientID,
		GrantType: GrantTypeDeviceCode,
	})
	return device, nil
}

// VerifyUserCode authenticates the resource owner and approves the device.
func (f *DeviceFlow) VerifyUserCode(ctx context.Context, userCode string, creds Credentials) (*DeviceCode, error) {
	identity, err := f.authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	return f.ApproveByUserCode(ctx, userCode, identity.ID())
}

// RejectUserCode authenticates the resource owner and denies the device.
func (f *DeviceFlow) RejectUserCode(ctx context.Context, userCode string, creds Credentials) (*DeviceCode, error) {
	if _, err := f.authenticate(ctx, creds); err != nil {
		return nil, err
	}
	return f.DenyByUserCode(ctx, userCode)
}

// PollToken answers a device polling the token endpoint. Only one of any
// number of concurrent polls on an approved code gets the token, the rest
// see expired_token.
func (f *DeviceFlow) PollToken(ctx context.Context, deviceCode, clientID string) (*IssuedToken, error) {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		device, err := f.store.FindDeviceCode(ctx, deviceCode)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrInvalidGrant
			}
			return nil, err
		}

		if device.ClientID != clientID {
			return nil, WrapError(ErrInvalidGrant, nil, map[string]any{"reason": "device code issued to another client"})
		}

		next, verdict := f.evaluatePoll(device, f.now())
		if next == nil {
			return nil, verdict
		}

		if err := f.store.UpdateDeviceCode(ctx, next); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			if errors.Is(err, ErrNotFound) {
				return nil, ErrExpiredToken
			}
			return nil, err
		}

		if verdict != nil {
			return nil, verdict
		}

		return f.redeem(ctx, next)
	}

	return nil, ErrSlowDown
}

// evaluatePoll decides the outcome of a poll. It returns the record to
// write back, nil when nothing changes, and the error the poller gets. A nil
// error with a record means the caller won the redemption.
func (f *DeviceFlow) evaluatePoll(device *DeviceCode, now time.Time) (*DeviceCode, error) {
	if device.Expired(now) {
		return nil, ErrExpiredToken
	}

	switch device.Status {
	case DeviceRedeeming, DeviceRedeemed:
		return nil, ErrExpiredToken
	}

	next := device.clone()
	polledAt := now
	next.LastPolledAt = &polledAt

	if device.LastPolledAt != nil && now.Sub(*device.LastPolledAt) < device.PollInterval {
		next.PollInterval += f.config.GetSlowDownStep()
		return next, ErrSlowDown
	}

	switch device.Status {
	case DevicePending:
		return next, ErrAuthorizationPending
	case DeviceDenied:
		return next, ErrAccessDenied
	case DeviceApproved:
		next.Status = DeviceRedeeming
		return next, nil
	}

	return nil, ErrInvalidGrant
}

func (f *DeviceFlow) redeem(ctx context.Context, device *DeviceCode) (*IssuedToken, error) {
	token, err := f.issueFor(ctx, device)
	if err != nil {
		if rerr := f.moveDevice(context.WithoutCancel(ctx), device, DeviceApproved); rerr != nil {
			f.logger.Error("failed to release device code for client %s: %v", device.ClientID, rerr)
		}
		return nil, err
	}

	if err := f.moveDevice(context.WithoutCancel(ctx), device, DeviceRedeemed); err != nil {
		f.logger.Error("failed to mark device code redeemed for client %s: %v", device.ClientID, err)
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventDeviceRedeemed,
		Actor:     ActorRef{ID: device.ClientID, Type: ActorTypeClient},
		UserID:    device.ApprovedUserID,
		ClientID:  device.ClientID,
		GrantType: GrantTypeDeviceCode,
	})

	return token, nil
}

func (f *DeviceFlow) issueFor(ctx context.Context, device *DeviceCode) (*IssuedToken, error) {
	client, err := f.clients.FindClient(ctx, device.ClientID)
	if err != nil || client == nil {
		return nil, WrapError(ErrInvalidClient, err, map[string]any{"client_id": device.ClientID})
	}

	identity, err := f.identities.FindIdentity(ctx, device.ApprovedUserID)
	if err != nil || identity == nil {
		return nil, WrapError(ErrInvalidGrant, err, map[string]any{"reason": "resource owner not found"})
	}

	return f.issuer.Issue(ctx, GrantContext{
		UserID:    device.ApprovedUserID,
		ClientID:  client.ID,
		Tenant:    client.Tenant,
		GrantType: GrantTypeDeviceCode,
		Scopes:    NewOrderedSet(device.Scopes...),
		Identity:  identity,
		Client:    client,
	})
}

func (f *DeviceFlow) actionUserCode(ctx context.Context, userCode string, to DeviceStatus, userID string) (*DeviceCode, error) {
	device, err := f.store.FindDeviceCodeByUserCode(ctx, NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidUserCode
		}
		return nil, err
	}
	if device.Expired(f.now()) {
		return nil, ErrInvalidUserCode
	}
	if device.Status != DevicePending {
		return nil, ErrAlreadyActioned
	}

	device.ApprovedUserID = userID
	if err := f.moveDevice(ctx, device, to); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrAlreadyActioned
		}
		return nil, err
	}
	return device, nil
}

func (f *DeviceFlow) moveDevice(ctx context.Context, device *DeviceCode, to DeviceStatus) error {
	from := device.Status
	if !deviceTransitions.allows(from, to) {
		return invalidTransition(from, to)
	}
	device.Status = to
	if err := f.store.UpdateDeviceCode(ctx, device); err != nil {
		device.Status = from
		return err
	}
	return nil
}

func (f *DeviceFlow) authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	identity, err := f.identities.VerifyIdentity(ctx, creds.Identifier, creds.Password)
	if err != nil || identity == nil {
		f.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{ID: creds.Identifier, Type: ActorTypeUser},
			GrantType: GrantTypeDeviceCode,
		})
		return nil, WrapError(ErrInvalidCredentials, err, nil)
	}
	return identity, nil
}

func (f *DeviceFlow) verificationURIComplete(userCode string) string {
	base := f.config.GetVerificationURI()
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("user_code", FormatUserCode(userCode))
	u.RawQuery = q.Encode()
	return u.String()
}
