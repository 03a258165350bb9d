package grants

import (
	"time"
)

// Grant types dispatched by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// GrantKind tells which flow created a session
type GrantKind string

const (
	GrantKindAuthCodeLogin GrantKind = "auth_code_login"
	GrantKindDeviceFlow    GrantKind = "device_flow"
)

// SessionStatus is the state of an authorize session
type SessionStatus string

const (
	SessionAwaitingLogin   SessionStatus = "awaiting_login"
	SessionAwaitingConsent SessionStatus = "awaiting_consent"
	SessionCodeIssued      SessionStatus = "code_issued"
	SessionExchanged       SessionStatus = "exchanged"
	SessionDenied          SessionStatus = "denied"
)

// GrantSession holds the state of an in-progress authorize request.
type GrantSession struct {
	Key             string
	Kind            GrantKind
	ClientID        string
	RedirectURI     string
	State           string
	RequestedScopes []string
	UserID          string
	Status          SessionStatus
	Consumed        bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Version         int64
}

// Expired reports whether the session is past its hard expiry.
func (s *GrantSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *GrantSession) clone() *GrantSession {
	out := *s
	out.RequestedScopes = append([]string(nil), s.RequestedScopes...)
	return &out
}

// CodeStatus is the state of an authorization code
type CodeStatus string

const (
	CodeIssued   CodeStatus = "issued"
	CodeInUse    CodeStatus = "in_use"
	CodeConsumed CodeStatus = "consumed"
)

// AuthorizationCode is the one time code handed to the client redirect.
type AuthorizationCode struct {
	Code        string
	SessionKey  string
	ClientID    string
	UserID      string
	Scopes      []string
	RedirectURI string
	Status      CodeStatus
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Version     int64
}

// Expired reports whether the code is past its hard expiry.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *AuthorizationCode) clone() *AuthorizationCode {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

// DeviceStatus is the state of a device authorization
type DeviceStatus string

const (
	DevicePending   DeviceStatus = "pending"
	DeviceApproved  DeviceStatus = "approved"
	DeviceRedeeming DeviceStatus = "redeeming"
	DeviceRedeemed  DeviceStatus = "redeemed"
	DeviceDenied    DeviceStatus = "denied"
)

// DeviceCode tracks one device authorization request.
type DeviceCode struct {
	DeviceCode     string
	UserCode       string
	ClientID       string
	Scopes         []string
	Status         DeviceStatus
	ApprovedUserID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastPolledAt   *time.Time
	PollInterval   time.Duration
	Version        int64
}

// Expired reports whether the device code is past its hard expiry.
func (d *DeviceCode) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

func (d *DeviceCode) clone() *DeviceCode {
	out := *d
	out.Scopes = append([]string(nil), d.Scopes...)
	if d.LastPolledAt != nil {
		t := *d.LastPolledAt
		out.LastPolledAt = &t
	}
	return &out
}
