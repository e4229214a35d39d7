// Package registry keeps the local mirror of the app registry in step with the
// ledger and rebuilds the lookup caches served by the read path.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/farstore/registry-sync/internal/app/cache"
	domain "github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/metrics"
	"github.com/farstore/registry-sync/internal/app/services/liquidity"
	"github.com/farstore/registry-sync/internal/app/storage"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
	"github.com/farstore/registry-sync/pkg/logger"
)

// Ledger is the read-only view of the registry contract.
type Ledger interface {
	Count(ctx context.Context) (int64, error)
	DomainAt(ctx context.Context, index int64) (string, error)
	IDOf(ctx context.Context, domain string) (*int64, error)
	EntryDetails(ctx context.Context, index int64) (domain.LedgerEntry, error)
	DomainsAndVisibility(ctx context.Context, start, count int64) ([]string, []bool, error)
}

// ManifestFetcher retrieves and validates one owner-hosted manifest.
type ManifestFetcher interface {
	Fetch(ctx context.Context, domain string) (domain.Manifest, error)
}

// FundingSource reports the escrowed funding of an entry.
type FundingSource interface {
	Funding(ctx context.Context, frameID int64) (float64, error)
}

// TokenInfo reports display metadata for a token.
type TokenInfo interface {
	Symbol(ctx context.Context, token common.Address) (string, error)
}

// Config tunes the sync tasks.
type Config struct {
	// ResyncBatchSize bounds the entries processed per stale-resync run.
	ResyncBatchSize int
	// BatchReads enumerates the ledger in pages during metrics refresh.
	BatchReads bool
	PageSize   int
}

// DefaultResyncBatchSize is the number of stale entries refreshed per run.
const DefaultResyncBatchSize = 10

// Dependencies are the collaborators of the sync engine. Liquidity, Funding
// and Tokens are optional; a nil one leaves the matching figure at zero.
type Dependencies struct {
	Ledger      Ledger
	Fetcher     ManifestFetcher
	Records     storage.RegistryStore
	Credentials storage.CredentialStore
	Liquidity   liquidity.Resolver
	Funding     FundingSource
	Tokens      TokenInfo
	Metrics     *cache.MetricsCache
	APIKeys     *cache.APIKeyCache
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service is the sync engine. Its tasks take no locks of their own: they rely
// on the store's per-domain upsert being atomic, and on the caches publishing
// whole snapshots.
type Service struct {
	ledger      Ledger
	fetcher     ManifestFetcher
	records     storage.RegistryStore
	credentials storage.CredentialStore
	liquidity   liquidity.Resolver
	funding     FundingSource
	tokens      TokenInfo
	metrics     *cache.MetricsCache
	apiKeys     *cache.APIKeyCache
	now         func() time.Time
	cfg         Config
	log         *logger.Logger
}

// New creates a sync engine. Ledger, Fetcher, Records and Credentials are
// required.
func New(deps Dependencies, cfg Config, log *logger.Logger) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("manifest fetcher is required")
	case deps.Records == nil:
		return nil, fmt.Errorf("record store is required")
	case deps.Credentials == nil:
		return nil, fmt.Errorf("credential store is required")
	}
	if log == nil {
		log = logger.NewDefault("registry-sync")
	}
	if deps.Metrics == nil {
		deps.Metrics = cache.NewMetricsCache()
	}
	if deps.APIKeys == nil {
		deps.APIKeys = cache.NewAPIKeyCache()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ResyncBatchSize <= 0 {
		cfg.ResyncBatchSize = DefaultResyncBatchSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}

	return &Service{
		ledger:      deps.Ledger,
		fetcher:     deps.Fetcher,
		records:     deps.Records,
		credentials: deps.Credentials,
		liquidity:   deps.Liquidity,
		funding:     deps.Funding,
		tokens:      deps.Tokens,
		metrics:     deps.Metrics,
		apiKeys:     deps.APIKeys,
		now:         deps.Now,
		cfg:         cfg,
		log:         log,
	}, nil
}

// MetricsCache returns the derived-metrics cache rebuilt by RefreshMetrics.
func (s *Service) MetricsCache() *cache.MetricsCache { return s.metrics }

// APIKeyCache returns the credential cache rebuilt by ReloadAPIKeys.
func (s *Service) APIKeyCache() *cache.APIKeyCache { return s.apiKeys }

// SyncDomain fetches the manifest for name and records the outcome. A
// successful fetch upserts manifest and both timestamps; a failed one only
// advances the attempt timestamp and the fetch error is returned.
func (s *Service) SyncDomain(ctx context.Context, name string, ledgerID *int64) (domain.Manifest, error) {
	name, err := checkDomain(name)
	if err != nil {
		return domain.Manifest{}, err
	}

	manifest, fetchErr := s.fetcher.Fetch(ctx, name)
	at := s.now()

	if fetchErr != nil {
		stage := svcerrors.Stage(fetchErr)
		metrics.RecordManifestFailure(stage)
		s.log.WithError(fetchErr).
			WithField("domain", name).
			WithField("stage", stage).
			Warn("manifest fetch failed")

		if err := s.records.TouchAttempt(ctx, name, ledgerID, at); err != nil {
			return domain.Manifest{}, errors.Join(fetchErr, err)
		}
		return domain.Manifest{}, fetchErr
	}

	if err := s.records.UpsertAppRecord(ctx, name, ledgerID, manifest.Raw, at); err != nil {
		return domain.Manifest{}, err
	}

	entry := s.log.WithField("domain", name)
	if ledgerID != nil {
		entry = entry.WithField("frame_id", *ledgerID)
	}
	entry.Debug("manifest synced")
	return manifest, nil
}

// Lookup returns the stored manifest for name. A domain the mirror has never
// fetched successfully gets one synchronous sync attempt; its failure is
// returned as is and not retried.
func (s *Service) Lookup(ctx context.Context, name string) (domain.Manifest, error) {
	name, err := checkDomain(name)
	if err != nil {
		return domain.Manifest{}, err
	}

	rec, err := s.records.GetAppRecord(ctx, name)
	switch {
	case err == nil && rec.HasManifest():
		return manifestFromRecord(rec), nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return domain.Manifest{}, err
	}

	return s.Reload(ctx, name)
}

// Reload forces a sync of name, resolving its ledger id first. A ledger
// failure while resolving the id does not prevent the fetch.
func (s *Service) Reload(ctx context.Context, name string) (domain.Manifest, error) {
	name, err := checkDomain(name)
	if err != nil {
		return domain.Manifest{}, err
	}

	id, err := s.ledger.IDOf(ctx, name)
	if err != nil {
		s.log.WithError(err).WithField("domain", name).Warn("resolve ledger id failed")
		id = nil
	}
	return s.SyncDomain(ctx, name, id)
}

// ListApps returns mirrored apps by ledger id, or every listed app when ids is
// empty.
func (s *Service) ListApps(ctx context.Context, ids []int64) ([]domain.AppRecord, error) {
	return s.records.ListAppRecords(ctx, ids)
}

// checkDomain normalizes name and rejects anything that is not a bare
// hostname before it reaches the store or the network.
func checkDomain(name string) (string, error) {
	name = domain.NormalizeDomain(name)
	if name == "" {
		return "", svcerrors.BadRequest("domain is required")
	}
	if !domain.ValidDomain(name) {
		return "", svcerrors.BadRequest(fmt.Sprintf("invalid domain %q", name)).WithDetails("domain", name)
	}
	return name, nil
}

func manifestFromRecord(rec domain.AppRecord) domain.Manifest {
	return domain.Manifest{
		Name: gjson.GetBytes(rec.Manifest, "name").String(),
		Raw:  rec.Manifest,
	}
}
