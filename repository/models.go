package repository

import (
	"time"

	"github.com/goliatone/go-grants"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GrantSessionModel is the Bun model for authorization sessions.
type GrantSessionModel struct {
	bun.BaseModel `bun:"table:grant_sessions"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	SessionKey      string    `bun:"session_key,notnull,unique"`
	Kind            string    `bun:"kind,notnull"`
	ClientID        string    `bun:"client_id,notnull"`
	RedirectURI     string    `bun:"redirect_uri"`
	State           string    `bun:"state"`
	RequestedScopes []string  `bun:"requested_scopes,type:jsonb"`
	UserID          string    `bun:"user_id"`
	Status          string    `bun:"status,notnull"`
	Consumed        bool      `bun:"consumed,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	ExpiresAt       time.Time `bun:"expires_at,notnull"`
	Version         int64     `bun:"version,notnull"`
}

// AuthorizationCodeModel is the Bun model for authorization codes.
type AuthorizationCodeModel struct {
	bun.BaseModel `bun:"table:grant_authorization_codes"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	Code        string    `bun:"code,notnull,unique"`
	SessionKey  string    `bun:"session_key"`
	ClientID    string    `bun:"client_id,notnull"`
	UserID      string    `bun:"user_id,notnull"`
	Scopes      []string  `bun:"scopes,type:jsonb"`
	RedirectURI string    `bun:"redirect_uri"`
	Status      string    `bun:"status,notnull"`
	IssuedAt    time.Time `bun:"issued_at,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
	Version     int64     `bun:"version,notnull"`
}

// DeviceCodeModel is the Bun model for device authorizations.
type DeviceCodeModel struct {
	bun.BaseModel `bun:"table:grant_device_codes"`

	ID             uuid.UUID     `bun:"id,pk,type:uuid"`
	DeviceCode     string        `bun:"device_code,notnull,unique"`
	UserCode       string        `bun:"user_code,notnull,unique"`
	ClientID       string        `bun:"client_id,notnull"`
	Scopes         []string      `bun:"scopes,type:jsonb"`
	Status         string        `bun:"status,notnull"`
	ApprovedUserID string        `bun:"approved_user_id"`
	CreatedAt      time.Time     `bun:"created_at,notnull"`
	ExpiresAt      time.Time     `bun:"expires_at,notnull"`
	LastPolledAt   *time.Time    `bun:"last_polled_at"`
	PollInterval   time.Duration `bun:"poll_interval,notnull"`
	Version        int64         `bun:"version,notnull"`
}

// recordID derives a stable primary key from a natural key
func recordID(key string) uuid.UUID {
	if id, err := hashid.NewUUID(key); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
}

func fromSession(s *grants.GrantSession) *GrantSessionModel {
	return &GrantSessionModel{
		ID:              recordID(s.Key),
		SessionKey:      s.Key,
		Kind:            string(s.Kind),
		ClientID:        s.ClientID,
		RedirectURI:     s.RedirectURI,
		State:           s.State,
		RequestedScopes: nonNil(s.RequestedScopes),
		UserID:          s.UserID,
		Status:          string(s.Status),
		Consumed:        s.Consumed,
		CreatedAt:       s.CreatedAt.UTC(),
		ExpiresAt:       s.ExpiresAt.UTC(),
		Version:         s.Version,
	}
}

func (m *GrantSessionModel) toSession() *grants.GrantSession {
	return &grants.GrantSession{
		Key:             m.SessionKey,
		Kind:            grants.GrantKind(m.Kind),
		ClientID:        m.ClientID,
		RedirectURI:     m.RedirectURI,
		State:           m.State,
		RequestedScopes: append([]string(nil), m.RequestedScopes...),
		UserID:          m.UserID,
		Status:          grants.SessionStatus(m.Status),
		Consumed:        m.Consumed,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		Version:         m.Version,
	}
}

func fromCode(c *grants.AuthorizationCode) *AuthorizationCodeModel {
	return &AuthorizationCodeModel{
		ID:          recordID(c.Code),
		Code:        c.Code,
		SessionKey:  c.SessionKey,
		ClientID:    c.ClientID,
		UserID:      c.UserID,
		Scopes:      nonNil(c.Scopes),
		RedirectURI: c.RedirectURI,
		Status:      string(c.Status),
		IssuedAt:    c.IssuedAt.UTC(),
		ExpiresAt:   c.ExpiresAt.UTC(),
		Version:     c.Version,
	}
}

func (m *AuthorizationCodeModel) toCode() *grants.AuthorizationCode {
	return &grants.AuthorizationCode{
		Code:        m.Code,
		SessionKey:  m.SessionKey,
		ClientID:    m.ClientID,
		UserID:      m.UserID,
		Scopes:      append([]string(nil), m.Scopes...),
		RedirectURI: m.RedirectURI,
		Status:      grants.CodeStatus(m.Status),
		IssuedAt:    m.IssuedAt,
		ExpiresAt:   m.ExpiresAt,
		Version:     m.Version,
	}
}

func fromDevice(d *grants.DeviceCode) *DeviceCodeModel {
	model := &DeviceCodeModel{
		ID:             recordID(d.DeviceCode),
		DeviceCode:     d.DeviceCode,
		UserCode:       d.UserCode,
		ClientID:       d.ClientID,
		Scopes:         nonNil(d.Scopes),
		Status:         string(d.Status),
		ApprovedUserID: d.ApprovedUserID,
		CreatedAt:      d.CreatedAt.UTC(),
		ExpiresAt:      d.ExpiresAt.UTC(),
		PollInterval:   d.PollInterval,
		Version:        d.Version,
	}
	if d.LastPolledAt != nil {
		polled := d.LastPolledAt.UTC()
		model.LastPolledAt = &polled
	}
	return model
}

func (m *DeviceCodeModel) toDevice() *grants.DeviceCode {
	device := &grants.DeviceCode{
		DeviceCode:     m.DeviceCode,
		UserCode:       m.UserCode,
		ClientID:       m.ClientID,
		Scopes:         append([]string(nil), m.Scopes...),
		Status:         grants.DeviceStatus(m.Status),
		ApprovedUserID: m.ApprovedUserID,
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		PollInterval:   m.PollInterval,
		Version:        m.Version,
	}
	if m.LastPolledAt != nil {
		polled := *m.LastPolledAt
		device.LastPolledAt = &polled
	}
	return device
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
