package grants

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process local Store. Records are immutable snapshots
// swapped with sync.Map CompareAndSwap, so every transition is an atomic
// check-and-set on one entity and no lock spans a flow.
type MemoryStore struct {
	sessions  sync.Map // key -> *GrantSession
	codes     sync.Map // code -> *AuthorizationCode
	devices   sync.Map // device code -> *DeviceCode
	userCodes sync.Map // user code -> device code
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateSession(_ context.Context, session *GrantSession) error {
	if _, loaded := m.sessions.LoadOrStore(session.Key, session.clone()); loaded {
		return ErrConflict
	}
	return nil
}

func (m *MemoryStore) FindSession(_ context.Context, key string) (*GrantSession, error) {
	v, ok := m.sessions.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*GrantSession).clone(), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *GrantSession) error {
	cur, ok := m.sessions.Load(session.Key)
	if !ok {
		return ErrNotFound
	}
	if cur.(*GrantSession).Version != session.Version {
		return ErrConflict
	}
	next := session.clone()
	next.Version++
	if !m.sessions.CompareAndSwap(session.Key, cur, next) {
		return ErrConflict
	}
	session.Version = next.Version
	return nil
}

func (m *MemoryStore) CreateCode(_ context.Context, code *AuthorizationCode) error {
	if _, loaded := m.codes.LoadOrStore(code.Code, code.clone()); loaded {
		return ErrConflict
	}
	return nil
}

func (m *MemoryStore) FindCode(_ context.Context, code string) (*AuthorizationCode, error) {
	v, ok := m.codes.Load(code)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*AuthorizationCode).clone(), nil
}

func (m *MemoryStore) UpdateCode(_ context.Context, code *AuthorizationCode) error {
	cur, ok := m.codes.Load(code.Code)
	if !ok {
		return ErrNotFound
	}
	if cur.(*AuthorizationCode).Version != code.Version {
		return ErrConflict
	}
	next := code.clone()
	next.Version++
	if !m.codes.CompareAndSwap(code.Code, cur, next) {
		return ErrConflict
	}
	code.Version = next.Version
	return nil
}

func (m *MemoryStore) CreateDeviceCode(_ context.Context, device *DeviceCode) error {
	if _, loaded := m.userCodes.LoadOrStore(device.UserCode, device.DeviceCode); loaded {
		return ErrConflict
	}
	if _, loaded := m.devices.LoadOrStore(device.DeviceCode, device.clone()); loaded {
		m.userCodes.CompareAndDelete(device.UserCode, device.DeviceCode)
		return ErrConflict
	}
	return nil
}

func (m *MemoryStore) FindDeviceCode(_ context.Context, deviceCode string) (*DeviceCode, error) {
	v, ok := m.devices.Load(deviceCode)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*DeviceCode).clone(), nil
}

func (m *MemoryStore) FindDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	deviceCode, ok := m.userCodes.Load(userCode)
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindDeviceCode(ctx, deviceCode.(string))
}

func (m *MemoryStore) UpdateDeviceCode(_ context.Context, device *DeviceCode) error {
	cur, ok := m.devices.Load(device.DeviceCode)
	if !ok {
		return ErrNotFound
	}
	if cur.(*DeviceCode).Version != device.Version {
		return ErrConflict
	}
	next := device.clone()
	next.Version++
	if !m.devices.CompareAndSwap(device.DeviceCode, cur, next) {
		return ErrConflict
	}
	device.Version = next.Version
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0

	m.sessions.Range(func(key, value any) bool {
		if value.(*GrantSession).Expired(now) && m.sessions.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})

	m.codes.Range(func(key, value any) bool {
		if value.(*AuthorizationCode).Expired(now) && m.codes.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})

	m.devices.Range(func(key, value any) bool {
		device := value.(*DeviceCode)
		if device.Expired(now) && m.devices.CompareAndDelete(key, value) {
			m.userCodes.CompareAndDelete(device.UserCode, device.DeviceCode)
			removed++
		}
		return true
	})

	return removed, nil
}
