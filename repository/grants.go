package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-grants"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// GrantRepository implements grants.Store using Bun. Updates are guarded by
// the version column so concurrent transitions on one record resolve to a
// single winner.
type GrantRepository struct {
	db bun.IDB
}

var _ grants.Store = (*GrantRepository)(nil)

// NewGrantRepository creates a new repository.
func NewGrantRepository(db bun.IDB) *GrantRepository {
	return &GrantRepository{db: db}
}

// CreateTables creates the grant tables when missing.
func CreateTables(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*GrantSessionModel)(nil),
		(*AuthorizationCodeModel)(nil),
		(*DeviceCodeModel)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *GrantRepository) CreateSession(ctx context.Context, session *grants.GrantSession) error {
	_, err := r.db.NewInsert().Model(fromSession(session)).Exec(ctx)
	return mapWriteError(err)
}

func (r *GrantRepository) FindSession(ctx context.Context, key string) (*grants.GrantSession, error) {
	model := &GrantSessionModel{}
	err := r.db.NewSelect().
		Model(model).
		Where("session_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return model.toSession(), nil
}

func (r *GrantRepository) UpdateSession(ctx context.Context, session *grants.GrantSession) error {
	model := fromSession(session)
	model.Version = session.Version + 1

	res, err := r.db.NewUpdate().
		Model(model).
		ExcludeColumn("id", "session_key", "created_at").
		Where("session_key = ?", session.Key).
		Where("version = ?", session.Version).
		Exec(ctx)
	if err := r.checkUpdate(ctx, res, err, (*GrantSessionModel)(nil), "session_key", session.Key); err != nil {
		return err
	}
	session.Version = model.Version
	return nil
}

func (r *GrantRepository) CreateCode(ctx context.Context, code *grants.AuthorizationCode) error {
	_, err := r.db.NewInsert().Model(fromCode(code)).Exec(ctx)
	return mapWriteError(err)
}

func (r *GrantRepository) FindCode(ctx context.Context, code string) (*grants.AuthorizationCode, error) {
	model := &AuthorizationCodeModel{}
	err := r.db.NewSelect().
		Model(model).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return model.toCode(), nil
}

func (r *GrantRepository) UpdateCode(ctx context.Context, code *grants.AuthorizationCode) error {
	model := fromCode(code)
	model.Version = code.Version + 1

	res, err := r.db.NewUpdate().
		Model(model).
		ExcludeColumn("id", "code", "issued_at").
		Where("code = ?", code.Code).
		Where("version = ?", code.Version).
		Exec(ctx)
	if err := r.checkUpdate(ctx, res, err, (*AuthorizationCodeModel)(nil), "code", code.Code); err != nil {
		return err
	}
	code.Version = model.Version
	return nil
}

func (r *GrantRepository) CreateDeviceCode(ctx context.Context, device *grants.DeviceCode) error {
	_, err := r.db.NewInsert().Model(fromDevice(device)).Exec(ctx)
	return mapWriteError(err)
}

func (r *GrantRepository) FindDeviceCode(ctx context.Context, deviceCode string) (*grants.DeviceCode, error) {
	return r.findDevice(ctx, "device_code", deviceCode)
}

func (r *GrantRepository) FindDeviceCodeByUserCode(ctx context.Context, userCode string) (*grants.DeviceCode, error) {
	return r.findDevice(ctx, "user_code", userCode)
}

func (r *GrantRepository) findDevice(ctx context.Context, column, value string) (*grants.DeviceCode, error) {
	model := &DeviceCodeModel{}
	err := r.db.NewSelect().
		Model(model).
		Where("? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return model.toDevice(), nil
}

func (r *GrantRepository) UpdateDeviceCode(ctx context.Context, device *grants.DeviceCode) error {
	model := fromDevice(device)
	model.Version = device.Version + 1

	res, err := r.db.NewUpdate().
		Model(model).
		ExcludeColumn("id", "device_code", "user_code", "created_at").
		Where("device_code = ?", device.DeviceCode).
		Where("version = ?", device.Version).
		Exec(ctx)
	if err := r.checkUpdate(ctx, res, err, (*DeviceCodeModel)(nil), "device_code", device.DeviceCode); err != nil {
		return err
	}
	device.Version = model.Version
	return nil
}

// Sweep deletes sessions, codes and device codes that expired at or before now.
func (r *GrantRepository) Sweep(ctx context.Context, now time.Time) (int, error) {
	models := []any{
		(*GrantSessionModel)(nil),
		(*AuthorizationCodeModel)(nil),
		(*DeviceCodeModel)(nil),
	}

	total := 0
	for _, model := range models {
		res, err := r.db.NewDelete().
			Model(model).
			Where("expires_at <= ?", now.UTC()).
			Exec(ctx)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += int(n)
		}
	}
	return total, nil
}

// checkUpdate resolves a zero row update into ErrNotFound or ErrConflict.
func (r *GrantRepository) checkUpdate(ctx context.Context, res sql.Result, err error, model any, column, key string) error {
	if err != nil {
		return mapWriteError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	exists, err := r.db.NewSelect().
		Model(model).
		Where("? = ?", bun.Ident(column), key).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return grants.ErrNotFound
	}
	return grants.ErrConflict
}

func mapReadError(err error) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return grants.ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return grants.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
