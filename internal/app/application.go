package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/farstore/registry-sync/internal/app/httpapi"
	"github.com/farstore/registry-sync/internal/app/services/liquidity"
	"github.com/farstore/registry-sync/internal/app/services/manifest"
	"github.com/farstore/registry-sync/internal/app/services/registry"
	"github.com/farstore/registry-sync/internal/app/storage"
	"github.com/farstore/registry-sync/internal/app/system"
	"github.com/farstore/registry-sync/internal/chain"
	"github.com/farstore/registry-sync/internal/config"
	"github.com/farstore/registry-sync/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil Store is opened from
// the database configuration.
type Stores struct {
	Store storage.Store
}

// Options toggles optional parts of the application.
type Options struct {
	// ServeHTTP registers the read path with the lifecycle manager.
	ServeHTTP bool
	// Schedule registers the background task scheduler.
	Schedule bool
}

// Application ties the sync engine together and manages its lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cfg     config.Config
	db      *sql.DB
	http    *httpService
	chain   *chain.Client
	done    chan struct{}
	once    sync.Once

	Store     storage.Store
	Registry  *registry.Service
	Scheduler *registry.Scheduler
	Handler   http.Handler
}

// New builds a fully initialised application.
func New(ctx context.Context, cfg config.Config, stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	var db *sql.DB
	if stores.Store == nil {
		store, handle, err := buildStore(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("configure store: %w", err)
		}
		stores.Store = store
		db = handle
	}

	app, err := build(cfg, stores.Store, opts, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	app.db = db
	return app, nil
}

func build(cfg config.Config, store storage.Store, opts Options, log *logger.Logger) (*Application, error) {
	client, err := chain.NewClient(chain.Config{
		RPCURL:            cfg.Chain.RPCURL,
		Timeout:           cfg.Chain.Timeout,
		MaxRetries:        cfg.Chain.MaxRetries,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("configure chain client: %w", err)
	}
	contracts := cfg.Chain.Contracts
	if err := contracts.Validate(); err != nil {
		return nil, err
	}
	erc20 := chain.NewERC20(client)

	deps := registry.Dependencies{
		Ledger: chain.NewRegistry(client, common.HexToAddress(contracts.Registry)),
		Fetcher: manifest.NewFetcher(manifest.Config{
			URLTemplate:  cfg.Manifest.URLTemplate,
			Timeout:      cfg.Manifest.Timeout,
			MaxBodyBytes: cfg.Manifest.MaxBodyBytes,
			UserAgent:    cfg.Manifest.UserAgent,
		}, log.Named("manifest")),
		Records:     store,
		Credentials: store,
		Tokens:      liquidity.NewTokenInfo(erc20),
	}
	if contracts.Escrow != "" {
		deps.Funding = liquidity.NewFundingSource(chain.NewEscrow(client, common.HexToAddress(contracts.Escrow)))
	} else {
		log.Entry().Warn("ESCROW_CONTRACT not set; funding reported as zero")
	}

	resolver, err := newLiquidityResolver(cfg, client, erc20)
	if err != nil {
		return nil, err
	}
	deps.Liquidity = resolver

	svc, err := registry.New(deps, registry.Config{
		ResyncBatchSize: cfg.Sync.ResyncBatchSize,
		BatchReads:      cfg.Sync.BatchReads,
		PageSize:        cfg.Sync.PageSize,
	}, log.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("configure registry service: %w", err)
	}

	scheduler := registry.NewScheduler(svc, registry.Schedules{
		Discovery: cfg.Sync.DiscoverySchedule,
		Resync:    cfg.Sync.ResyncSchedule,
		Metrics:   cfg.Sync.MetricsSchedule,
		APIKeys:   cfg.Sync.APIKeysSchedule,
	}, cfg.Sync.RunTimeout, log.Named("scheduler"))

	done := make(chan struct{})
	handler, err := httpapi.NewHandler(httpapi.Options{
		Registry:       svc,
		Metrics:        svc.MetricsCache(),
		Notifications:  store,
		APIKeys:        svc.APIKeyCache(),
		RateLimit:      cfg.Server.RateLimit,
		AllowedOrigins: cfg.Server.Origins(),
		AuditLogPath:   cfg.Server.AuditLogPath,
		Done:           done,
	}, log.Named("http"))
	if err != nil {
		return nil, fmt.Errorf("configure http api: %w", err)
	}

	app := &Application{
		manager:   system.NewManager(),
		log:       log,
		cfg:       cfg,
		chain:     client,
		done:      done,
		Store:     store,
		Registry:  svc,
		Scheduler: scheduler,
		Handler:   handler,
	}

	if opts.Schedule {
		if err := app.manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
		}
	}
	if opts.ServeHTTP {
		app.http = newHTTPService(cfg.Server.Addr(), handler, log.Named("http"))
		if err := app.manager.Register(app.http); err != nil {
			return nil, fmt.Errorf("register %s: %w", app.http.Name(), err)
		}
	}
	return app, nil
}

func newLiquidityResolver(cfg config.Config, client *chain.Client, erc20 *chain.ERC20) (liquidity.Resolver, error) {
	var reference common.Address
	if cfg.Liquidity.ReferenceAsset != "" {
		if !common.IsHexAddress(cfg.Liquidity.ReferenceAsset) {
			return nil, fmt.Errorf("reference asset %q is invalid", cfg.Liquidity.ReferenceAsset)
		}
		reference = common.HexToAddress(cfg.Liquidity.ReferenceAsset)
	}

	switch cfg.Liquidity.Strategy {
	case config.LiquidityAggregator:
		return liquidity.NewAggregatorResolver(liquidity.AggregatorConfig{
			BaseURL:        cfg.Liquidity.AggregatorURL,
			ReferenceAsset: reference,
			Timeout:        cfg.Liquidity.Timeout,
		})
	case config.LiquidityPool, "":
		if cfg.Chain.Contracts.PoolFactory == "" {
			return nil, fmt.Errorf("pool liquidity strategy requires a pool factory contract")
		}
		factory := chain.NewPoolFactory(client, common.HexToAddress(cfg.Chain.Contracts.PoolFactory))
		return liquidity.NewPoolResolver(factory, erc20, liquidity.PoolConfig{
			ReferenceAsset: reference,
			FeeTier:        cfg.Liquidity.FeeTier,
		}), nil
	default:
		return nil, fmt.Errorf("unknown liquidity strategy %q", cfg.Liquidity.Strategy)
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Bootstrap populates the lookup caches and the mirror before serving.
func (a *Application) Bootstrap(ctx context.Context) {
	a.Registry.Bootstrap(ctx)
}

// ChainHeight reports the latest block of the configured node.
func (a *Application) ChainHeight(ctx context.Context) (uint64, error) {
	return a.chain.BlockNumber(ctx)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases the database.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.once.Do(func() { close(a.done) })
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("error closing database connection")
		}
		a.db = nil
	}
	return err
}

// HTTPAddr is the bound address of the read path, empty when not serving.
func (a *Application) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// HTTPErrors reports a failure of the HTTP serve loop. It is nil when the
// read path is not served.
func (a *Application) HTTPErrors() <-chan error {
	if a.http == nil {
		return nil
	}
	return a.http.Errors()
}
