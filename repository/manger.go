package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/uptrace/bun"
)

// Manager owns the Bun handle and the grant repository built on it.
type Manager struct {
	db     *bun.DB
	grants *GrantRepository
}

func NewRepositoryManager(db *bun.DB) *Manager {
	return &Manager{
		db:     db,
		grants: NewGrantRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.grants == nil {
		return errors.New("repository grants should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Migrate creates the grant tables.
func (m *Manager) Migrate(ctx context.Context) error {
	return CreateTables(ctx, m.db)
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Grants() *GrantRepository {
	return m.grants
}

// Sweep removes expired grant state in a single transaction.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	var removed int
	err := m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := NewGrantRepository(tx).Sweep(ctx, now)
		removed = n
		return err
	})
	return removed, err
}
