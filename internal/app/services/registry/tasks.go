package registry

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	domain "github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/metrics"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
)

// Task names used in logs, metrics and the CLI.
const (
	TaskDiscovery = "discovery"
	TaskResync    = "resync"
	TaskMetrics   = "metrics"
	TaskAPIKeys   = "apikeys"
)

// DiscoverNew syncs every ledger index above the discovery cursor, in
// ascending order. The first failure stops the run; the remaining backlog is
// picked up by the next one. It returns the number of indices synced.
//
// Only this task advances the cursor, so ids written by Lookup or Reload for
// a high index never hide the indices below it.
func (s *Service) DiscoverNew(ctx context.Context) (int, error) {
	count, err := s.ledgerCount(ctx)
	if err != nil {
		return 0, err
	}

	cursor, err := s.records.DiscoveryCursor(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for index := cursor + 1; index <= count; index++ {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		name, err := s.ledger.DomainAt(ctx, index)
		if err != nil {
			return synced, err
		}
		name = domain.NormalizeDomain(name)
		if !domain.ValidDomain(name) {
			if name != "" {
				s.log.WithField("task", TaskDiscovery).
					WithField("frame_id", index).
					WithField("domain", name).
					Warn("skipping malformed ledger domain")
			}
			if err := s.records.AdvanceDiscoveryCursor(ctx, index); err != nil {
				return synced, err
			}
			continue
		}

		id := index
		if _, err := s.SyncDomain(ctx, name, &id); err != nil {
			// A failed fetch left an attempt row carrying the id, which
			// resync retries; the cursor moves past it.
			if !errors.Is(err, svcerrors.ErrStoreUnavailable) && errors.Is(err, svcerrors.ErrManifestFetchFailed) {
				if advErr := s.records.AdvanceDiscoveryCursor(ctx, index); advErr != nil {
					return synced, errors.Join(err, advErr)
				}
			}
			return synced, err
		}
		if err := s.records.AdvanceDiscoveryCursor(ctx, index); err != nil {
			return synced, err
		}
		synced++
	}

	if synced > 0 {
		s.log.WithField("task", TaskDiscovery).
			WithField("synced", synced).
			WithField("ledger_count", count).
			Info("discovered new entries")
	}
	return synced, nil
}

// ledgerCount reads and publishes the ledger size. A negative count is a
// malformed ledger response.
func (s *Service) ledgerCount(ctx context.Context) (int64, error) {
	count, err := s.ledger.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, svcerrors.LedgerUnavailable("registry.getNumListedFrames", fmt.Errorf("negative entry count %d", count))
	}
	metrics.SetLedgerCount(count)
	return count, nil
}

// ResyncReport summarizes one stale-resync run.
type ResyncReport struct {
	Selected int
	Synced   int
	Failed   []string
}

// ResyncStale refreshes the least recently attempted entries. A failing fetch
// is logged and skipped. A ledger or store failure ends the run early and
// leaves the current entry untouched.
func (s *Service) ResyncStale(ctx context.Context) (ResyncReport, error) {
	var report ResyncReport

	batch, err := s.records.SelectStaleBatch(ctx, s.cfg.ResyncBatchSize)
	if err != nil {
		return report, err
	}
	report.Selected = len(batch)

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if rec.LedgerID == nil {
			continue
		}
		id := *rec.LedgerID

		name, err := s.ledger.DomainAt(ctx, id)
		if err != nil {
			return report, err
		}
		if name = domain.NormalizeDomain(name); !domain.ValidDomain(name) {
			name = rec.Domain
		}

		if _, err := s.SyncDomain(ctx, name, &id); err != nil {
			if errors.Is(err, svcerrors.ErrStoreUnavailable) {
				return report, err
			}
			report.Failed = append(report.Failed, name)
			s.log.WithError(err).
				WithField("task", TaskResync).
				WithField("domain", name).
				Info("unable to resync domain")
			// A row rejected before the fetch would otherwise stay at the
			// head of the queue.
			if !errors.Is(err, svcerrors.ErrManifestFetchFailed) {
				if touchErr := s.records.TouchAttempt(ctx, rec.Domain, &id, s.now()); touchErr != nil {
					return report, touchErr
				}
			}
			continue
		}
		report.Synced++
	}
	return report, nil
}

// RefreshMetrics recomputes derived metrics for every visible ledger entry
// and publishes them as a new snapshot. If enumerating the ledger fails the
// previous snapshot stays in place; failures resolving one entry's figures
// only zero that figure.
func (s *Service) RefreshMetrics(ctx context.Context) error {
	entries, err := s.enumerateEntries(ctx)
	if err != nil {
		return err
	}

	next := make([]domain.DerivedMetrics, 0, len(entries))
	for _, entry := range entries {
		if entry.Hidden {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		next = append(next, s.deriveMetrics(ctx, entry))
	}

	s.metrics.Replace(next)
	metrics.SetCacheEntries(TaskMetrics, s.metrics.Len())
	return nil
}

func (s *Service) enumerateEntries(ctx context.Context) ([]domain.LedgerEntry, error) {
	count, err := s.ledgerCount(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, count)
	if !s.cfg.BatchReads {
		for index := int64(1); index <= count; index++ {
			entry, err := s.ledger.EntryDetails(ctx, index)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return entries, nil
	}

	page := int64(s.cfg.PageSize)
	for start := int64(1); start <= count; start += page {
		n := page
		if remaining := count - start + 1; remaining < n {
			n = remaining
		}
		domains, hidden, err := s.ledger.DomainsAndVisibility(ctx, start, n)
		if err != nil {
			return nil, err
		}
		for i := range domains {
			index := start + int64(i)
			if hidden[i] {
				entries = append(entries, domain.LedgerEntry{ID: index, Domain: domain.NormalizeDomain(domains[i]), Hidden: true})
				continue
			}
			entry, err := s.ledger.EntryDetails(ctx, index)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Service) deriveMetrics(ctx context.Context, entry domain.LedgerEntry) domain.DerivedMetrics {
	out := domain.DerivedMetrics{
		FrameID:   entry.ID,
		Domain:    entry.Domain,
		Owner:     entry.Owner,
		Token:     entry.Token,
		CreatedAt: entry.CreatedAt,
	}
	log := s.log.WithField("task", TaskMetrics).WithField("frame_id", entry.ID)

	if s.funding != nil {
		funding, err := s.funding.Funding(ctx, entry.ID)
		if err != nil {
			log.WithError(err).Warn("funding lookup failed")
		} else {
			out.Funding = nonNegative(funding)
		}
	}

	if entry.Token == nil {
		return out
	}
	token := common.HexToAddress(*entry.Token)

	if s.tokens != nil {
		symbol, err := s.tokens.Symbol(ctx, token)
		if err != nil {
			log.WithError(err).Warn("token symbol lookup failed")
		} else {
			out.Symbol = symbol
		}
	}
	if s.liquidity != nil {
		liq, err := s.liquidity.ResolveLiquidity(ctx, token)
		if err != nil {
			log.WithError(err).Warn("liquidity lookup failed")
		} else {
			out.Liquidity = nonNegative(liq)
		}
	}
	return out
}

// ReloadAPIKeys rebuilds the credential cache. A failed read keeps the
// previous snapshot.
func (s *Service) ReloadAPIKeys(ctx context.Context) error {
	keys, err := s.credentials.SelectAPIKeys(ctx)
	if err != nil {
		return err
	}
	s.apiKeys.Replace(keys)
	metrics.SetCacheEntries(TaskAPIKeys, s.apiKeys.Len())
	return nil
}

// Bootstrap runs every task once so the caches are populated before serving.
// Task failures are logged and do not fail the bootstrap.
func (s *Service) Bootstrap(ctx context.Context) {
	for _, task := range s.Tasks() {
		if err := task.Run(ctx); err != nil {
			s.log.WithError(err).WithField("task", task.Name).Warn("bootstrap task failed")
		}
	}
}

// Task is a named sync task.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Tasks returns the four sync tasks in bootstrap order.
func (s *Service) Tasks() []Task {
	return []Task{
		{Name: TaskDiscovery, Run: func(ctx context.Context) error {
			_, err := s.DiscoverNew(ctx)
			return err
		}},
		{Name: TaskResync, Run: func(ctx context.Context) error {
			_, err := s.ResyncStale(ctx)
			return err
		}},
		{Name: TaskMetrics, Run: s.RefreshMetrics},
		{Name: TaskAPIKeys, Run: s.ReloadAPIKeys},
	}
}

// TaskByName looks up one of Tasks.
func (s *Service) TaskByName(name string) (Task, bool) {
	for _, task := range s.Tasks() {
		if task.Name == name {
			return task, true
		}
	}
	return Task{}, false
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
