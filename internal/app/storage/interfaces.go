package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/farstore/registry-sync/internal/app/domain/registry"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RegistryStore persists the per-domain mirror of the ledger.
//
// UpsertAppRecord and TouchAttempt must each be a single atomic insert-or-update
// keyed by domain. The sync tasks take no locks of their own; two tasks syncing
// the same domain concurrently converge on the last physical write.
type RegistryStore interface {
	// UpsertAppRecord records a successful sync: manifest, attempt and success
	// timestamps are all set to at. A nil ledgerID keeps the stored one.
	UpsertAppRecord(ctx context.Context, domain string, ledgerID *int64, manifest json.RawMessage, at time.Time) error
	// TouchAttempt records a failed sync. It creates an attempt-only row for
	// unseen domains and never modifies manifest or last_check_success.
	TouchAttempt(ctx context.Context, domain string, ledgerID *int64, at time.Time) error
	// DiscoveryCursor returns the highest ledger index discovery has passed,
	// 0 before the first run. Rows written by lookups never move it.
	DiscoveryCursor(ctx context.Context) (int64, error)
	// AdvanceDiscoveryCursor moves the cursor to position. It never moves back.
	AdvanceDiscoveryCursor(ctx context.Context, position int64) error
	// SelectStaleBatch returns up to limit rows with a ledger id, oldest
	// last_check_attempt first.
	SelectStaleBatch(ctx context.Context, limit int) ([]registry.AppRecord, error)
	GetAppRecord(ctx context.Context, domain string) (registry.AppRecord, error)
	// ListAppRecords returns rows with a manifest whose ledger id is in
	// ledgerIDs, or every such row when ledgerIDs is empty.
	ListAppRecords(ctx context.Context, ledgerIDs []int64) ([]registry.AppRecord, error)
}

// CredentialStore persists API keys.
type CredentialStore interface {
	SelectAPIKeys(ctx context.Context) ([]registry.APIKey, error)
	CreateAPIKey(ctx context.Context, domain string) (registry.APIKey, error)
}

// NotificationStore persists notification targets registered by apps.
type NotificationStore interface {
	GetNotificationTarget(ctx context.Context, domain string, fid int64) (registry.NotificationTarget, error)
	UpsertNotificationTarget(ctx context.Context, target registry.NotificationTarget) error
	DeactivateNotificationTarget(ctx context.Context, domain string, fid int64) error
}

// Store bundles every persistence interface.
type Store interface {
	RegistryStore
	CredentialStore
	NotificationStore
}
