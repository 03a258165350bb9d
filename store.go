package grants

import (
	"context"
	"time"
)

// Store persists the short lived state of the grant flows.
//
// Find methods return ErrNotFound for unknown keys. Expired records may still
// be returned until they are swept, callers check Expired on every read.
//
// Update methods are conditional: the write only happens when the stored
// Version equals the Version of the argument, otherwise ErrConflict is
// returned. On success the argument's Version is advanced.
type Store interface {
	SessionStore
	CodeStore
	DeviceCodeStore

	// Sweep deletes every record that expired at or before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *GrantSession) error
	FindSession(ctx context.Context, key string) (*GrantSession, error)
	UpdateSession(ctx context.Context, session *GrantSession) error
}

type CodeStore interface {
	CreateCode(ctx context.Context, code *AuthorizationCode) error
	FindCode(ctx context.Context, code string) (*AuthorizationCode, error)
	UpdateCode(ctx context.Context, code *AuthorizationCode) error
}

type DeviceCodeStore interface {
	// CreateDeviceCode returns ErrConflict when the user code is taken.
	CreateDeviceCode(ctx context.Context, device *DeviceCode) error
	FindDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	FindDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	UpdateDeviceCode(ctx context.Context, device *DeviceCode) error
}
