// Package sqlstore implements the storage interfaces on a relational database
// (PostgreSQL in production, SQLite for local runs and tests).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/storage"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
	"github.com/farstore/registry-sync/internal/platform/migrations"
)

// Store implements the storage interfaces backed by SQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New wraps db. dialect is one of migrations.DialectPostgres or
// migrations.DialectSQLite and only selects the placeholder style.
func New(db *sql.DB, dialect string) (*Store, error) {
	var driverName string
	switch dialect {
	case migrations.DialectPostgres:
		driverName = "postgres"
	case migrations.DialectSQLite:
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &Store{db: sqlx.NewDb(db, driverName)}, nil
}

type appRow struct {
	Domain           string         `db:"domain"`
	FrameID          sql.NullInt64  `db:"frame_id"`
	FrameJSON        sql.NullString `db:"frame_json"`
	LastCheckAttempt time.Time      `db:"last_check_attempt"`
	LastCheckSuccess sql.NullTime   `db:"last_check_success"`
}

func (r appRow) record() registry.AppRecord {
	rec := registry.AppRecord{
		Domain:           r.Domain,
		LastCheckAttempt: r.LastCheckAttempt.UTC(),
	}
	if r.FrameID.Valid {
		rec.LedgerID = registry.Int64Ptr(r.FrameID.Int64)
	}
	if r.FrameJSON.Valid {
		rec.Manifest = json.RawMessage(r.FrameJSON.String)
	}
	if r.LastCheckSuccess.Valid {
		ts := r.LastCheckSuccess.Time.UTC()
		rec.LastCheckSuccess = &ts
	}
	return rec
}

const appColumns = `domain, frame_id, frame_json, last_check_attempt, last_check_success`

// --- RegistryStore ----------------------------------------------------------

// Timestamps only move forward: a write carrying an older time than the one
// stored keeps the stored value, so last_check_success never overtakes
// last_check_attempt under racing writers.
const upsertAppSQL = `
	INSERT INTO app (domain, frame_id, frame_json, last_check_attempt, last_check_success)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (domain) DO UPDATE SET
		frame_id = COALESCE(excluded.frame_id, app.frame_id),
		frame_json = excluded.frame_json,
		last_check_attempt = CASE
			WHEN excluded.last_check_attempt > app.last_check_attempt THEN excluded.last_check_attempt
			ELSE app.last_check_attempt END,
		last_check_success = CASE
			WHEN app.last_check_success IS NULL OR excluded.last_check_success > app.last_check_success THEN excluded.last_check_success
			ELSE app.last_check_success END
`

const touchAttemptSQL = `
	INSERT INTO app (domain, frame_id, frame_json, last_check_attempt, last_check_success)
	VALUES (?, ?, NULL, ?, NULL)
	ON CONFLICT (domain) DO UPDATE SET
		frame_id = COALESCE(excluded.frame_id, app.frame_id),
		last_check_attempt = CASE
			WHEN excluded.last_check_attempt > app.last_check_attempt THEN excluded.last_check_attempt
			ELSE app.last_check_attempt END
`

func (s *Store) UpsertAppRecord(ctx context.Context, domain string, ledgerID *int64, manifest json.RawMessage, at time.Time) error {
	at = at.UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertAppSQL),
		registry.NormalizeDomain(domain), nullInt64(ledgerID), nullJSON(manifest), at, at)
	if err != nil {
		return svcerrors.StoreUnavailable("upsert app", err)
	}
	return nil
}

func (s *Store) TouchAttempt(ctx context.Context, domain string, ledgerID *int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(touchAttemptSQL),
		registry.NormalizeDomain(domain), nullInt64(ledgerID), at.UTC())
	if err != nil {
		return svcerrors.StoreUnavailable("touch attempt", err)
	}
	return nil
}

const discoveryCursor = "discovery"

func (s *Store) DiscoveryCursor(ctx context.Context) (int64, error) {
	var position int64
	err := s.db.GetContext(ctx, &position, s.db.Rebind(`SELECT position FROM sync_cursor WHERE name = ?`), discoveryCursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, svcerrors.StoreUnavailable("discovery cursor", err)
	}
	return position, nil
}

const advanceCursorSQL = `
	INSERT INTO sync_cursor (name, position) VALUES (?, ?)
	ON CONFLICT (name) DO UPDATE SET
		position = CASE
			WHEN excluded.position > sync_cursor.position THEN excluded.position
			ELSE sync_cursor.position END
`

func (s *Store) AdvanceDiscoveryCursor(ctx context.Context, position int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(advanceCursorSQL), discoveryCursor, position); err != nil {
		return svcerrors.StoreUnavailable("advance discovery cursor", err)
	}
	return nil
}

func (s *Store) SelectStaleBatch(ctx context.Context, limit int) ([]registry.AppRecord, error) {
	var rows []appRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+appColumns+`
		FROM app
		WHERE frame_id IS NOT NULL
		ORDER BY last_check_attempt ASC, domain ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, svcerrors.StoreUnavailable("select stale batch", err)
	}
	return records(rows), nil
}

func (s *Store) GetAppRecord(ctx context.Context, domain string) (registry.AppRecord, error) {
	var row appRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+appColumns+`
		FROM app
		WHERE domain = ?
	`), registry.NormalizeDomain(domain))
	if errors.Is(err, sql.ErrNoRows) {
		return registry.AppRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return registry.AppRecord{}, svcerrors.StoreUnavailable("get app", err)
	}
	return row.record(), nil
}

func (s *Store) ListAppRecords(ctx context.Context, ledgerIDs []int64) ([]registry.AppRecord, error) {
	query := `
		SELECT ` + appColumns + `
		FROM app
		WHERE frame_id IS NOT NULL AND frame_json IS NOT NULL
		ORDER BY frame_id
	`
	var args []interface{}
	if len(ledgerIDs) > 0 {
		var err error
		query, args, err = sqlx.In(`
			SELECT `+appColumns+`
			FROM app
			WHERE frame_id IN (?) AND frame_json IS NOT NULL
			ORDER BY frame_id
		`, ledgerIDs)
		if err != nil {
			return nil, fmt.Errorf("build list query: %w", err)
		}
	}

	var rows []appRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, svcerrors.StoreUnavailable("list apps", err)
	}
	return records(rows), nil
}

// --- CredentialStore --------------------------------------------------------

func (s *Store) SelectAPIKeys(ctx context.Context) ([]registry.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT api_key, domain FROM app_api_key ORDER BY api_key`)
	if err != nil {
		return nil, svcerrors.StoreUnavailable("select api keys", err)
	}
	defer rows.Close()

	var result []registry.APIKey
	for rows.Next() {
		var key registry.APIKey
		if err := rows.Scan(&key.Key, &key.Domain); err != nil {
			return nil, svcerrors.StoreUnavailable("scan api key", err)
		}
		result = append(result, key)
	}
	if err := rows.Err(); err != nil {
		return nil, svcerrors.StoreUnavailable("select api keys", err)
	}
	return result, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, domain string) (registry.APIKey, error) {
	key := registry.APIKey{Key: uuid.NewString(), Domain: registry.NormalizeDomain(domain)}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO app_api_key (api_key, domain, created_at)
		VALUES (?, ?, ?)
	`), key.Key, key.Domain, time.Now().UTC())
	if err != nil {
		return registry.APIKey{}, svcerrors.StoreUnavailable("create api key", err)
	}
	return key, nil
}

// --- NotificationStore ------------------------------------------------------

func (s *Store) GetNotificationTarget(ctx context.Context, domain string, fid int64) (registry.NotificationTarget, error) {
	var target registry.NotificationTarget
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT domain, fid, endpoint, token, active
		FROM notification_target
		WHERE domain = ? AND fid = ?
	`), registry.NormalizeDomain(domain), fid).Scan(&target.Domain, &target.FID, &target.URL, &target.Token, &target.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.NotificationTarget{}, storage.ErrNotFound
	}
	if err != nil {
		return registry.NotificationTarget{}, svcerrors.StoreUnavailable("get notification target", err)
	}
	return target, nil
}

func (s *Store) UpsertNotificationTarget(ctx context.Context, target registry.NotificationTarget) error {
	if target.URL == "" {
		return fmt.Errorf("notification target url required")
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO notification_target (domain, fid, endpoint, token, active)
		VALUES (?, ?, ?, ?, TRUE)
		ON CONFLICT (domain, fid) DO UPDATE SET
			active = TRUE,
			token = excluded.token
	`), registry.NormalizeDomain(target.Domain), target.FID, target.URL, target.Token)
	if err != nil {
		return svcerrors.StoreUnavailable("upsert notification target", err)
	}
	return nil
}

func (s *Store) DeactivateNotificationTarget(ctx context.Context, domain string, fid int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notification_target
		SET active = FALSE
		WHERE domain = ? AND fid = ?
	`), registry.NormalizeDomain(domain), fid)
	if err != nil {
		return svcerrors.StoreUnavailable("deactivate notification target", err)
	}
	return nil
}

func records(rows []appRow) []registry.AppRecord {
	result := make([]registry.AppRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.record())
	}
	return result
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
