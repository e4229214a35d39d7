package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	apps          map[string]registry.AppRecord
	apiKeys       map[string]string
	notifications map[notificationKey]registry.NotificationTarget
	cursor        int64
}

type notificationKey struct {
	domain string
	fid    int64
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		apps:          make(map[string]registry.AppRecord),
		apiKeys:       make(map[string]string),
		notifications: make(map[notificationKey]registry.NotificationTarget),
	}
}

// RegistryStore implementation ------------------------------------------------

func (s *Store) UpsertAppRecord(_ context.Context, domain string, ledgerID *int64, manifest json.RawMessage, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	domain = registry.NormalizeDomain(domain)
	rec := s.apps[domain]
	rec.Domain = domain
	if ledgerID != nil {
		rec.LedgerID = registry.Int64Ptr(*ledgerID)
	}
	rec.Manifest = append(json.RawMessage(nil), manifest...)
	at = at.UTC()
	if at.After(rec.LastCheckAttempt) {
		rec.LastCheckAttempt = at
	}
	if rec.LastCheckSuccess == nil || at.After(*rec.LastCheckSuccess) {
		rec.LastCheckSuccess = &at
	}
	s.apps[domain] = rec
	return nil
}

func (s *Store) TouchAttempt(_ context.Context, domain string, ledgerID *int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	domain = registry.NormalizeDomain(domain)
	rec := s.apps[domain]
	rec.Domain = domain
	if ledgerID != nil {
		rec.LedgerID = registry.Int64Ptr(*ledgerID)
	}
	if at = at.UTC(); at.After(rec.LastCheckAttempt) {
		rec.LastCheckAttempt = at
	}
	s.apps[domain] = rec
	return nil
}

func (s *Store) DiscoveryCursor(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *Store) AdvanceDiscoveryCursor(_ context.Context, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position > s.cursor {
		s.cursor = position
	}
	return nil
}

func (s *Store) SelectStaleBatch(_ context.Context, limit int) ([]registry.AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]registry.AppRecord, 0, len(s.apps))
	for _, rec := range s.apps {
		if rec.LedgerID != nil {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastCheckAttempt.Equal(result[j].LastCheckAttempt) {
			return result[i].LastCheckAttempt.Before(result[j].LastCheckAttempt)
		}
		return result[i].Domain < result[j].Domain
	})
	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetAppRecord(_ context.Context, domain string) (registry.AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.apps[registry.NormalizeDomain(domain)]
	if !ok {
		return registry.AppRecord{}, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListAppRecords(_ context.Context, ledgerIDs []int64) ([]registry.AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(ledgerIDs))
	for _, id := range ledgerIDs {
		wanted[id] = true
	}

	var result []registry.AppRecord
	for _, rec := range s.apps {
		if rec.LedgerID == nil || !rec.HasManifest() {
			continue
		}
		if len(wanted) > 0 && !wanted[*rec.LedgerID] {
			continue
		}
		result = append(result, cloneRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return *result[i].LedgerID < *result[j].LedgerID })
	return result, nil
}

// CredentialStore implementation ----------------------------------------------

func (s *Store) SelectAPIKeys(_ context.Context) ([]registry.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]registry.APIKey, 0, len(s.apiKeys))
	for key, domain := range s.apiKeys {
		result = append(result, registry.APIKey{Key: key, Domain: domain})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) CreateAPIKey(_ context.Context, domain string) (registry.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := registry.APIKey{Key: uuid.NewString(), Domain: registry.NormalizeDomain(domain)}
	s.apiKeys[key.Key] = key.Domain
	return key, nil
}

// PutAPIKey stores a fixed key. Test helper.
func (s *Store) PutAPIKey(key, domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = registry.NormalizeDomain(domain)
}

// NotificationStore implementation --------------------------------------------

func (s *Store) GetNotificationTarget(_ context.Context, domain string, fid int64) (registry.NotificationTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.notifications[notificationKey{registry.NormalizeDomain(domain), fid}]
	if !ok {
		return registry.NotificationTarget{}, storage.ErrNotFound
	}
	return target, nil
}

func (s *Store) UpsertNotificationTarget(_ context.Context, target registry.NotificationTarget) error {
	if target.URL == "" {
		return fmt.Errorf("notification target url required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target.Domain = registry.NormalizeDomain(target.Domain)
	key := notificationKey{target.Domain, target.FID}
	if existing, ok := s.notifications[key]; ok {
		existing.Token = target.Token
		existing.Active = true
		s.notifications[key] = existing
		return nil
	}
	target.Active = true
	s.notifications[key] = target
	return nil
}

func (s *Store) DeactivateNotificationTarget(_ context.Context, domain string, fid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := notificationKey{registry.NormalizeDomain(domain), fid}
	if target, ok := s.notifications[key]; ok {
		target.Active = false
		s.notifications[key] = target
	}
	return nil
}

func cloneRecord(rec registry.AppRecord) registry.AppRecord {
	out := rec
	if rec.LedgerID != nil {
		out.LedgerID = registry.Int64Ptr(*rec.LedgerID)
	}
	if rec.LastCheckSuccess != nil {
		ts := *rec.LastCheckSuccess
		out.LastCheckSuccess = &ts
	}
	out.Manifest = append(json.RawMessage(nil), rec.Manifest...)
	return out
}
