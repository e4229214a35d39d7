package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	domain "github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/storage/memory"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
	"github.com/farstore/registry-sync/pkg/logger"
)

var errRPC = errors.New("rpc unreachable")

type fakeLedger struct {
	mu         sync.Mutex
	domains    []string // index i+1
	hidden     map[int64]bool
	tokens     map[int64]string
	countErr   error
	countValue *int64
	countHook  func(ctx context.Context)
	domainErr  map[int64]error
	detailsErr error
	idCalls    int
}

func newFakeLedger(domains ...string) *fakeLedger {
	return &fakeLedger{
		domains:   domains,
		hidden:    map[int64]bool{},
		tokens:    map[int64]string{},
		domainErr: map[int64]error{},
	}
}

func (l *fakeLedger) Count(ctx context.Context) (int64, error) {
	if l.countHook != nil {
		l.countHook(ctx)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.countErr != nil {
		return 0, svcerrors.LedgerUnavailable("registry.getNumListedFrames", l.countErr)
	}
	if l.countValue != nil {
		return *l.countValue, nil
	}
	return int64(len(l.domains)), nil
}

func (l *fakeLedger) DomainAt(_ context.Context, index int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.domainErr[index]; err != nil {
		return "", svcerrors.LedgerUnavailable("registry.getDomain", err)
	}
	if index < 1 || index > int64(len(l.domains)) {
		return "", nil
	}
	return l.domains[index-1], nil
}

func (l *fakeLedger) IDOf(_ context.Context, name string) (*int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.idCalls++
	for i, d := range l.domains {
		if d == name {
			return domain.Int64Ptr(int64(i + 1)), nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) EntryDetails(_ context.Context, index int64) (domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detailsErr != nil {
		return domain.LedgerEntry{}, svcerrors.LedgerUnavailable("registry.getFrame", l.detailsErr)
	}
	entry := domain.LedgerEntry{
		ID:        index,
		Domain:    l.domains[index-1],
		Owner:     common.BigToAddress(common.Big1).Hex(),
		CreatedAt: 1700000000 + index,
	}
	if tok, ok := l.tokens[index]; ok {
		entry.Token = &tok
	}
	return entry, nil
}

func (l *fakeLedger) DomainsAndVisibility(_ context.Context, start, count int64) ([]string, []bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var domains []string
	var hidden []bool
	for i := start; i < start+count && i <= int64(len(l.domains)); i++ {
		domains = append(domains, l.domains[i-1])
		hidden = append(hidden, l.hidden[i])
	}
	return domains, hidden, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[string]string // domain -> stage
	names map[string]string
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fail: map[string]string{}, names: map[string]string{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, name string) (domain.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if stage, ok := f.fail[name]; ok {
		return domain.Manifest{}, svcerrors.ManifestFetchFailed(name, stage, fmt.Errorf("%s failure", stage))
	}
	display := f.names[name]
	if display == "" {
		display = name
	}
	raw, _ := json.Marshal(map[string]string{"name": display})
	return domain.Manifest{Name: display, Raw: raw}, nil
}

func (f *fakeFetcher) setFail(name, stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stage == "" {
		delete(f.fail, name)
		return
	}
	f.fail[name] = stage
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// clock advances one second per reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// failingStore wraps memory.Store and fails selected operations.
type failingStore struct {
	*memory.Store
	failTouch  bool
	failSelect bool
	failKeys   bool
	failCursor bool
}

func (s *failingStore) AdvanceDiscoveryCursor(ctx context.Context, position int64) error {
	if s.failCursor {
		return svcerrors.StoreUnavailable("advance discovery cursor", errors.New("db down"))
	}
	return s.Store.AdvanceDiscoveryCursor(ctx, position)
}

func (s *failingStore) TouchAttempt(ctx context.Context, name string, id *int64, at time.Time) error {
	if s.failTouch {
		return svcerrors.StoreUnavailable("touch attempt", errors.New("db down"))
	}
	return s.Store.TouchAttempt(ctx, name, id, at)
}

func (s *failingStore) SelectStaleBatch(ctx context.Context, limit int) ([]domain.AppRecord, error) {
	if s.failSelect {
		return nil, svcerrors.StoreUnavailable("select stale batch", errors.New("db down"))
	}
	return s.Store.SelectStaleBatch(ctx, limit)
}

func (s *failingStore) SelectAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	if s.failKeys {
		return nil, svcerrors.StoreUnavailable("select api keys", errors.New("db down"))
	}
	return s.Store.SelectAPIKeys(ctx)
}

type fakeResolver struct {
	values map[common.Address]float64
	errs   map[common.Address]error
}

func (r fakeResolver) ResolveLiquidity(_ context.Context, token common.Address) (float64, error) {
	if err := r.errs[token]; err != nil {
		return 0, err
	}
	return r.values[token], nil
}

type fakeFunding map[int64]float64

func (f fakeFunding) Funding(_ context.Context, id int64) (float64, error) { return f[id], nil }

type fakeTokens struct{}

func (fakeTokens) Symbol(context.Context, common.Address) (string, error) { return "TKN", nil }

type harness struct {
	svc     *Service
	ledger  *fakeLedger
	fetcher *fakeFetcher
	store   *failingStore
	clock   *clock
}

func newHarness(cfg Config, ledger *fakeLedger, opts ...func(*Dependencies)) *harness {
	h := &harness{
		ledger:  ledger,
		fetcher: newFakeFetcher(),
		store:   &failingStore{Store: memory.New()},
		clock:   newClock(),
	}
	deps := Dependencies{
		Ledger:      h.ledger,
		Fetcher:     h.fetcher,
		Records:     h.store,
		Credentials: h.store,
		Now:         h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := New(deps, cfg, logger.Discard())
	if err != nil {
		panic(err)
	}
	h.svc = svc
	return h
}
