package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/services/liquidity"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
	"github.com/farstore/registry-sync/pkg/logger"
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{}, Config{}, logger.Discard())
	require.Error(t, err)
}

func TestSyncDomainNewEntryWithoutToken(t *testing.T) {
	ledger := newFakeLedger("a.example", "b.example", "c.example", "d.example", "example.xyz")
	h := newHarness(Config{}, ledger)
	h.fetcher.names["example.xyz"] = "Example"
	ctx := context.Background()

	m, err := h.svc.SyncDomain(ctx, "Example.XYZ", domain.Int64Ptr(5))
	require.NoError(t, err)
	assert.Equal(t, "Example", m.Name)

	rec, err := h.store.GetAppRecord(ctx, "example.xyz")
	require.NoError(t, err)
	require.NotNil(t, rec.LedgerID)
	assert.Equal(t, int64(5), *rec.LedgerID)
	assert.JSONEq(t, `{"name":"Example"}`, string(rec.Manifest))
	require.NotNil(t, rec.LastCheckSuccess)
	assert.Equal(t, rec.LastCheckAttempt, *rec.LastCheckSuccess)

	require.NoError(t, h.svc.RefreshMetrics(ctx))
	got := h.svc.MetricsCache().Get("example.xyz")
	assert.Equal(t, int64(5), got.FrameID)
	assert.Nil(t, got.Token)
	assert.Equal(t, 0.0, got.Liquidity)
}

func TestSyncDomainFailureKeepsManifest(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("example.xyz"))
	ctx := context.Background()

	_, err := h.svc.SyncDomain(ctx, "example.xyz", domain.Int64Ptr(1))
	require.NoError(t, err)
	before, err := h.store.GetAppRecord(ctx, "example.xyz")
	require.NoError(t, err)

	h.fetcher.setFail("example.xyz", svcerrors.StageTransport)
	_, err = h.svc.SyncDomain(ctx, "example.xyz", domain.Int64Ptr(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, svcerrors.ErrManifestFetchFailed)
	assert.Equal(t, svcerrors.StageTransport, svcerrors.Stage(err))

	after, err := h.store.GetAppRecord(ctx, "example.xyz")
	require.NoError(t, err)
	assert.Equal(t, string(before.Manifest), string(after.Manifest))
	assert.True(t, after.LastCheckAttempt.After(before.LastCheckAttempt))
	assert.Equal(t, *before.LastCheckSuccess, *after.LastCheckSuccess)
}

func TestSyncDomainJoinsStoreFailure(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("a.example"))
	h.fetcher.setFail("a.example", svcerrors.StageParse)
	h.store.failTouch = true

	_, err := h.svc.SyncDomain(context.Background(), "a.example", nil)
	assert.ErrorIs(t, err, svcerrors.ErrManifestFetchFailed)
	assert.ErrorIs(t, err, svcerrors.ErrStoreUnavailable)
}

func TestSyncDomainRejectsEmptyDomain(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	_, err := h.svc.SyncDomain(context.Background(), "  ", nil)
	require.Error(t, err)
	assert.Empty(t, h.fetcher.Calls())
}

func TestTimestampsMonotonicAcrossCycles(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("a.example"))
	ctx := context.Background()

	var lastAttempt time.Time
	var lastSuccess time.Time
	for i := 0; i < 4; i++ {
		if i%2 == 1 {
			h.fetcher.setFail("a.example", svcerrors.StageValidate)
		} else {
			h.fetcher.setFail("a.example", "")
		}
		_, _ = h.svc.SyncDomain(ctx, "a.example", domain.Int64Ptr(1))

		rec, err := h.store.GetAppRecord(ctx, "a.example")
		require.NoError(t, err)
		require.NotNil(t, rec.LastCheckSuccess)
		assert.False(t, rec.LastCheckSuccess.After(rec.LastCheckAttempt))
		assert.False(t, rec.LastCheckAttempt.Before(lastAttempt))
		assert.False(t, rec.LastCheckSuccess.Before(lastSuccess))
		lastAttempt, lastSuccess = rec.LastCheckAttempt, *rec.LastCheckSuccess
	}
}

func TestDiscoverNewCoversEveryIndex(t *testing.T) {
	ledger := newFakeLedger("a.example", "", "C.example")
	h := newHarness(Config{}, ledger)
	ctx := context.Background()

	synced, err := h.svc.DiscoverNew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	for id, name := range map[int64]string{1: "a.example", 3: "c.example"} {
		rec, err := h.store.GetAppRecord(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, id, *rec.LedgerID)
	}

	// Nothing above the watermark on the next run.
	h.fetcher.reset()
	synced, err = h.svc.DiscoverNew(ctx)
	require.NoError(t, err)
	assert.Zero(t, synced)
	assert.Empty(t, h.fetcher.Calls())
}

func TestDiscoverNewHaltsOnFirstFailure(t *testing.T) {
	ledger := newFakeLedger("a.example", "b.example", "c.example")
	h := newHarness(Config{}, ledger)
	h.fetcher.setFail("b.example", svcerrors.StageTransport)
	ctx := context.Background()

	synced, err := h.svc.DiscoverNew(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, svcerrors.ErrManifestFetchFailed)
	assert.Equal(t, 1, synced)
	assert.Equal(t, []string{"a.example", "b.example"}, h.fetcher.Calls())

	_, err = h.store.GetAppRecord(ctx, "c.example")
	assert.Error(t, err, "index 3 must wait for the next run")

	// The failed index left an attempt-only row carrying its ledger id, so the
	// next run continues from index 3 and resync heals index 2.
	rec, err := h.store.GetAppRecord(ctx, "b.example")
	require.NoError(t, err)
	assert.False(t, rec.HasManifest())
	assert.Equal(t, int64(2), *rec.LedgerID)

	h.fetcher.setFail("b.example", "")
	h.fetcher.reset()
	synced, err = h.svc.DiscoverNew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Equal(t, []string{"c.example"}, h.fetcher.Calls())

	_, err = h.svc.ResyncStale(ctx)
	require.NoError(t, err)
	rec, err = h.store.GetAppRecord(ctx, "b.example")
	require.NoError(t, err)
	assert.True(t, rec.HasManifest())
}

func TestDiscoverNewLedgerFailure(t *testing.T) {
	ledger := newFakeLedger("a.example")
	ledger.countErr = errRPC
	h := newHarness(Config{}, ledger)

	_, err := h.svc.DiscoverNew(context.Background())
	assert.ErrorIs(t, err, svcerrors.ErrLedgerUnavailable)
	assert.ErrorIs(t, err, errRPC)
}

func TestLookupOfHighIndexKeepsLowerIndicesDiscoverable(t *testing.T) {
	ledger := newFakeLedger("a.example", "b.example", "c.example", "d.example", "e.example")
	h := newHarness(Config{}, ledger)
	ctx := context.Background()

	_, err := h.svc.Lookup(ctx, "e.example")
	require.NoError(t, err)
	rec, err := h.store.GetAppRecord(ctx, "e.example")
	require.NoError(t, err)
	assert.Equal(t, int64(5), *rec.LedgerID)

	synced, err := h.svc.DiscoverNew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, synced)

	for id, name := range map[int64]string{1: "a.example", 2: "b.example", 3: "c.example", 4: "d.example"} {
		rec, err := h.store.GetAppRecord(ctx, name)
		require.NoError(t, err, name)
		assert.True(t, rec.HasManifest(), name)
		assert.Equal(t, id, *rec.LedgerID, name)
	}

	cursor, err := h.store.DiscoveryCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cursor)
}

func TestDiscoverNewSkipsMalformedLedgerDomains(t *testing.T) {
	ledger := newFakeLedger("a.example", "evil.example:8080", "user@c.example", "d.example")
	h := newHarness(Config{}, ledger)
	ctx := context.Background()

	synced, err := h.svc.DiscoverNew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.Equal(t, []string{"a.example", "d.example"}, h.fetcher.Calls())

	cursor, err := h.store.DiscoveryCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor)
}

func TestDiscoverNewStoreFailureKeepsCursor(t *testing.T) {
	ledger := newFakeLedger("a.example", "b.example")
	h := newHarness(Config{}, ledger)
	h.fetcher.setFail("b.example", svcerrors.StageTransport)
	h.store.failTouch = true
	ctx := context.Background()

	synced, err := h.svc.DiscoverNew(ctx)
	assert.ErrorIs(t, err, svcerrors.ErrStoreUnavailable)
	assert.Equal(t, 1, synced)

	cursor, err := h.store.DiscoveryCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor, "index 2 was never recorded and must be retried")

	h.store.failTouch = false
	h.store.failCursor = true
	h.fetcher.setFail("b.example", "")
	_, err = h.svc.DiscoverNew(ctx)
	assert.ErrorIs(t, err, svcerrors.ErrStoreUnavailable)
	cursor, err = h.store.DiscoveryCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
}

func TestNegativeLedgerCountIsRejected(t *testing.T) {
	ledger := newFakeLedger("a.example")
	ledger.countValue = domain.Int64Ptr(-3)
	h := newHarness(Config{}, ledger)
	ctx := context.Background()

	_, err := h.svc.DiscoverNew(ctx)
	assert.ErrorIs(t, err, svcerrors.ErrLedgerUnavailable)

	require.NotPanics(t, func() {
		err = h.svc.RefreshMetrics(ctx)
	})
	assert.ErrorIs(t, err, svcerrors.ErrLedgerUnavailable)
}

func TestEntryPointsRejectNonHostnames(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("a.example"))
	ctx := context.Background()

	calls := map[string]func(string) error{
		"sync": func(name string) error {
			_, err := h.svc.SyncDomain(ctx, name, nil)
			return err
		},
		"lookup": func(name string) error {
			_, err := h.svc.Lookup(ctx, name)
			return err
		},
		"reload": func(name string) error {
			_, err := h.svc.Reload(ctx, name)
			return err
		},
	}
	for op, call := range calls {
		for _, name := range []string{"user@a.example", "10.0.0.1", "a.example:8080", "[::1]", "a.example/x"} {
			err := call(name)
			require.Error(t, err, "%s %s", op, name)
			assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err), "%s %s", op, name)
		}
	}

	assert.Empty(t, h.fetcher.Calls())
	assert.Zero(t, h.ledger.idCalls)
	apps, err := h.store.ListAppRecords(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, apps)
	_, err = h.store.GetAppRecord(ctx, "user@a.example")
	assert.Error(t, err)
}

func seed(t *testing.T, h *harness, n int) []string {
	t.Helper()
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("app%02d.example", i+1)
	}
	h.ledger.domains = names
	for i, name := range names {
		_, err := h.svc.SyncDomain(context.Background(), name, domain.Int64Ptr(int64(i+1)))
		require.NoError(t, err)
	}
	h.fetcher.reset()
	return names
}

func TestResyncStaleBatchBoundAndOrder(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	names := seed(t, h, 15)

	report, err := h.svc.ResyncStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, report.Selected)
	assert.Equal(t, 10, report.Synced)
	// Seeding attempted them in order, so the oldest ten are the first ten.
	assert.Equal(t, names[:10], h.fetcher.Calls())

	h.fetcher.reset()
	_, err = h.svc.ResyncStale(context.Background())
	require.NoError(t, err)
	calls := h.fetcher.Calls()
	require.Len(t, calls, 10)
	assert.Equal(t, names[10:], calls[:5])
}

func TestResyncStaleIsolatesFailures(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	names := seed(t, h, 5)
	ctx := context.Background()

	before := make(map[string]domain.AppRecord)
	for _, name := range names {
		rec, err := h.store.GetAppRecord(ctx, name)
		require.NoError(t, err)
		before[name] = rec
	}

	failing := names[2]
	h.fetcher.setFail(failing, svcerrors.StageStatus)
	for _, name := range names {
		if name != failing {
			h.fetcher.names[name] = "updated " + name
		}
	}

	report, err := h.svc.ResyncStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Synced)
	assert.Equal(t, []string{failing}, report.Failed)
	assert.Len(t, h.fetcher.Calls(), 5)

	for _, name := range names {
		rec, err := h.store.GetAppRecord(ctx, name)
		require.NoError(t, err)
		assert.True(t, rec.LastCheckAttempt.After(before[name].LastCheckAttempt), name)
		if name == failing {
			assert.Equal(t, string(before[name].Manifest), string(rec.Manifest))
			assert.Equal(t, *before[name].LastCheckSuccess, *rec.LastCheckSuccess)
			continue
		}
		assert.JSONEq(t, fmt.Sprintf(`{"name":"updated %s"}`, name), string(rec.Manifest))
	}
}

func TestResyncStaleLedgerFailureAborts(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	names := seed(t, h, 3)
	h.ledger.domainErr[1] = errRPC
	ctx := context.Background()

	before, err := h.store.GetAppRecord(ctx, names[0])
	require.NoError(t, err)

	report, err := h.svc.ResyncStale(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, svcerrors.ErrLedgerUnavailable)
	assert.ErrorIs(t, err, errRPC)
	assert.Equal(t, 3, report.Selected)
	assert.Zero(t, report.Synced)
	assert.Empty(t, report.Failed)
	assert.Empty(t, h.fetcher.Calls())

	// The row is left exactly as it was, so it stays at the head of the queue.
	after, err := h.store.GetAppRecord(ctx, names[0])
	require.NoError(t, err)
	assert.Equal(t, before.LastCheckAttempt, after.LastCheckAttempt)
	assert.Equal(t, string(before.Manifest), string(after.Manifest))

	delete(h.ledger.domainErr, 1)
	report, err = h.svc.ResyncStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, names, h.fetcher.Calls())
}

func TestResyncStaleStoreFailureAborts(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	seed(t, h, 3)

	h.store.failSelect = true
	_, err := h.svc.ResyncStale(context.Background())
	assert.ErrorIs(t, err, svcerrors.ErrStoreUnavailable)

	h.store.failSelect = false
	h.store.failTouch = true
	h.fetcher.setFail("app01.example", svcerrors.StageTransport)
	report, err := h.svc.ResyncStale(context.Background())
	assert.ErrorIs(t, err, svcerrors.ErrStoreUnavailable)
	assert.Zero(t, report.Synced)
	assert.Len(t, h.fetcher.Calls(), 1)
}

func TestRefreshMetricsComputesFigures(t *testing.T) {
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	ledger := newFakeLedger("a.example", "b.example", "c.example")
	ledger.tokens[1] = tokenA.Hex()
	ledger.tokens[2] = tokenB.Hex()

	h := newHarness(Config{}, ledger, func(d *Dependencies) {
		d.Liquidity = fakeResolver{
			values: map[common.Address]float64{tokenA: 150},
			errs:   map[common.Address]error{tokenB: errors.New("aggregator down")},
		}
		d.Funding = fakeFunding{1: 2.5, 3: 1}
		d.Tokens = fakeTokens{}
	})

	require.NoError(t, h.svc.RefreshMetrics(context.Background()))
	cache := h.svc.MetricsCache()

	a := cache.Get("a.example")
	assert.Equal(t, 150.0, a.Liquidity)
	assert.Equal(t, 2.5, a.Funding)
	assert.Equal(t, "TKN", a.Symbol)
	require.NotNil(t, a.Token)

	b := cache.Get("b.example")
	assert.Equal(t, 0.0, b.Liquidity, "per-entry failure leaves zero")
	assert.Equal(t, "TKN", b.Symbol)

	c := cache.Get("c.example")
	assert.Nil(t, c.Token)
	assert.Equal(t, 1.0, c.Funding)

	assert.Equal(t, 3, cache.Len())
}

func TestRefreshMetricsWithAggregatorStrategy(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ledger := newFakeLedger("a.example")
	ledger.tokens[1] = token.Hex()

	h := newHarness(Config{}, ledger, func(d *Dependencies) {
		d.Liquidity = liquidity.ResolverFunc(func(_ context.Context, tok common.Address) (float64, error) {
			return liquidity.SumQuotedLiquidity([]byte(`{"pairs":[
				{"quoteToken":{"address":"`+liquidity.DefaultReferenceAsset+`"},"liquidity":{"quote":100}},
				{"quoteToken":{"address":"0x0000000000000000000000000000000000000000"},"liquidity":{"quote":50}}
			]}`), common.HexToAddress(liquidity.DefaultReferenceAsset))
		})
	})

	require.NoError(t, h.svc.RefreshMetrics(context.Background()))
	assert.Equal(t, 150.0, h.svc.MetricsCache().Get("a.example").Liquidity)
}

func TestRefreshMetricsReplaceNotMerge(t *testing.T) {
	ledger := newFakeLedger("a.example", "b.example")
	h := newHarness(Config{}, ledger)
	ctx := context.Background()

	require.NoError(t, h.svc.RefreshMetrics(ctx))
	published := h.svc.MetricsCache().List()
	require.Len(t, published, 2)

	ledger.detailsErr = errRPC
	err := h.svc.RefreshMetrics(ctx)
	assert.ErrorIs(t, err, svcerrors.ErrLedgerUnavailable)
	assert.Equal(t, published, h.svc.MetricsCache().List())

	// A successful cycle drops entries that are no longer reported.
	ledger.detailsErr = nil
	ledger.domains = ledger.domains[:1]
	require.NoError(t, h.svc.RefreshMetrics(ctx))
	assert.Equal(t, domain.DerivedMetrics{}, h.svc.MetricsCache().Get("b.example"))
}

func TestRefreshMetricsBatchReadsSkipHidden(t *testing.T) {
	names := make([]string, 7)
	for i := range names {
		names[i] = fmt.Sprintf("app%d.example", i+1)
	}
	ledger := newFakeLedger(names...)
	ledger.hidden[2] = true
	ledger.hidden[6] = true
	h := newHarness(Config{BatchReads: true, PageSize: 3}, ledger)

	require.NoError(t, h.svc.RefreshMetrics(context.Background()))

	var got []string
	for _, m := range h.svc.MetricsCache().List() {
		got = append(got, m.Domain)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"app1.example", "app3.example", "app4.example", "app5.example", "app7.example"}, got)
}

func TestReloadAPIKeys(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	h.store.PutAPIKey("key-1", "a.example")
	h.store.PutAPIKey("key-2", "b.example")
	ctx := context.Background()

	require.NoError(t, h.svc.ReloadAPIKeys(ctx))
	domainOne, ok := h.svc.APIKeyCache().Resolve("key-1")
	require.True(t, ok)
	assert.Equal(t, "a.example", domainOne)

	snapshot := func() map[string]string {
		out := map[string]string{}
		for _, key := range []string{"key-1", "key-2", "key-3"} {
			if d, ok := h.svc.APIKeyCache().Resolve(key); ok {
				out[key] = d
			}
		}
		return out
	}
	first := snapshot()

	// Unchanged table, identical observable cache.
	require.NoError(t, h.svc.ReloadAPIKeys(ctx))
	assert.Equal(t, first, snapshot())
	assert.Equal(t, 2, h.svc.APIKeyCache().Len())

	// A failed read keeps the previous snapshot.
	h.store.failKeys = true
	err := h.svc.ReloadAPIKeys(ctx)
	assert.ErrorIs(t, err, svcerrors.ErrStoreUnavailable)
	_, ok = h.svc.APIKeyCache().Resolve("key-2")
	assert.True(t, ok)
}

func TestLookupUsesMirror(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("a.example"))
	ctx := context.Background()
	h.fetcher.names["a.example"] = "App A"
	_, err := h.svc.SyncDomain(ctx, "a.example", domain.Int64Ptr(1))
	require.NoError(t, err)
	h.fetcher.reset()

	m, err := h.svc.Lookup(ctx, "A.example")
	require.NoError(t, err)
	assert.Equal(t, "App A", m.Name)
	assert.Empty(t, h.fetcher.Calls())
}

func TestLookupFallsBackToSyncOnce(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("a.example", "new.example"))
	ctx := context.Background()

	m, err := h.svc.Lookup(ctx, "new.example")
	require.NoError(t, err)
	assert.Equal(t, "new.example", m.Name)
	assert.Equal(t, []string{"new.example"}, h.fetcher.Calls())

	rec, err := h.store.GetAppRecord(ctx, "new.example")
	require.NoError(t, err)
	assert.Equal(t, int64(2), *rec.LedgerID)
}

func TestLookupFallbackFailureSurfaces(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	h.fetcher.setFail("gone.example", svcerrors.StageTransport)

	_, err := h.svc.Lookup(context.Background(), "gone.example")
	assert.ErrorIs(t, err, svcerrors.ErrManifestFetchFailed)
	assert.Len(t, h.fetcher.Calls(), 1)
}

func TestBootstrapRunsEveryTask(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger("a.example", "b.example"))
	h.store.PutAPIKey("key", "a.example")

	h.svc.Bootstrap(context.Background())

	_, ok := h.svc.APIKeyCache().Resolve("key")
	assert.True(t, ok)
	assert.Equal(t, 2, h.svc.MetricsCache().Len())
	_, err := h.store.GetAppRecord(context.Background(), "b.example")
	assert.NoError(t, err)
}

func TestTaskByName(t *testing.T) {
	h := newHarness(Config{}, newFakeLedger())
	for _, name := range []string{TaskDiscovery, TaskResync, TaskMetrics, TaskAPIKeys} {
		_, ok := h.svc.TaskByName(name)
		assert.True(t, ok, name)
	}
	_, ok := h.svc.TaskByName("nope")
	assert.False(t, ok)
}
