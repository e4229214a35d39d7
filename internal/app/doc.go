// Package app composes the registry sync engine: it opens the record store,
// binds the ledger contracts, selects the liquidity strategy, and manages the
// lifecycle of the scheduler and the HTTP read path.
//
//	internal/app/
//	├── application.go      # wiring and lifecycle
//	├── database.go         # record store selection
//	├── server.go           # HTTP server as a lifecycle service
//	├── cache/              # lookup caches (atomic snapshots)
//	├── domain/registry/    # shared data types
//	├── httpapi/            # read path handlers
//	├── metrics/            # prometheus collectors
//	├── services/           # manifest, liquidity and registry sync engine
//	├── storage/            # store interfaces, memory and SQL implementations
//	└── system/             # service lifecycle manager
package app
