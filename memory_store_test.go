package grants_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-grants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SessionVersioning(t *testing.T) {
	store := grants.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	session := &grants.GrantSession{
		Key:       "s1",
		ClientID:  webClientID,
		Status:    grants.SessionAwaitingLogin,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, store.CreateSession(ctx, session))
	assert.ErrorIs(t, store.CreateSession(ctx, session), grants.ErrConflict)

	first, err := store.FindSession(ctx, "s1")
	require.NoError(t, err)
	stale, err := store.FindSession(ctx, "s1")
	require.NoError(t, err)

	first.Status = grants.SessionAwaitingConsent
	require.NoError(t, store.UpdateSession(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	stale.Status = grants.SessionDenied
	assert.ErrorIs(t, store.UpdateSession(ctx, stale), grants.ErrConflict)

	current, err := store.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, grants.SessionAwaitingConsent, current.Status)

	_, err = store.FindSession(ctx, "missing")
	assert.ErrorIs(t, err, grants.ErrNotFound)
	assert.ErrorIs(t, store.UpdateSession(ctx, &grants.GrantSession{Key: "missing"}), grants.ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := grants.NewMemoryStore()
	ctx := context.Background()

	code := &grants.AuthorizationCode{
		Code:      "c1",
		Scopes:    []string{"openid"},
		Status:    grants.CodeIssued,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.CreateCode(ctx, code))
	code.Scopes[0] = "changed"

	found, err := store.FindCode(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"openid"}, found.Scopes)
}

func TestMemoryStore_SingleWinnerUpdate(t *testing.T) {
	store := grants.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateCode(ctx, &grants.AuthorizationCode{
		Code:      "c1",
		Status:    grants.CodeIssued,
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	const workers = 16
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)

	for i := 0; i < workers; i++ {
		code, err := store.FindCode(ctx, "c1")
		require.NoError(t, err)

		wg.Add(1)
		go func(code *grants.AuthorizationCode) {
			defer wg.Done()
			<-start
			code.Status = grants.CodeInUse
			if store.UpdateCode(ctx, code) == nil {
				wins.Add(1)
			}
		}(code)
	}

	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_DeviceCodes(t *testing.T) {
	store := grants.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	device := &grants.DeviceCode{
		DeviceCode: "d1",
		UserCode:   "BCDFGHJK",
		ClientID:   tvClientID,
		Status:     grants.DevicePending,
		ExpiresAt:  now.Add(time.Minute),
	}
	require.NoError(t, store.CreateDeviceCode(ctx, device))

	dup := *device
	dup.DeviceCode = "d2"
	assert.ErrorIs(t, store.CreateDeviceCode(ctx, &dup), grants.ErrConflict)

	found, err := store.FindDeviceCodeByUserCode(ctx, "BCDFGHJK")
	require.NoError(t, err)
	assert.Equal(t, "d1", found.DeviceCode)

	polled := now
	found.LastPolledAt = &polled
	require.NoError(t, store.UpdateDeviceCode(ctx, found))

	again, err := store.FindDeviceCode(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, again.LastPolledAt)
	assert.True(t, polled.Equal(*again.LastPolledAt))
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := grants.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateSession(ctx, &grants.GrantSession{Key: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, store.CreateSession(ctx, &grants.GrantSession{Key: "live", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.CreateCode(ctx, &grants.AuthorizationCode{Code: "old", ExpiresAt: now}))
	require.NoError(t, store.CreateDeviceCode(ctx, &grants.DeviceCode{DeviceCode: "old", UserCode: "OLDCODE1", ExpiresAt: now.Add(-time.Minute)}))

	removed, err := store.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = store.FindSession(ctx, "live")
	assert.NoError(t, err)
	_, err = store.FindDeviceCodeByUserCode(ctx, "OLDCODE1")
	assert.ErrorIs(t, err, grants.ErrNotFound)

	// the user code is free again
	require.NoError(t, store.CreateDeviceCode(ctx, &grants.DeviceCode{DeviceCode: "new", UserCode: "OLDCODE1", ExpiresAt: now.Add(time.Minute)}))
}
