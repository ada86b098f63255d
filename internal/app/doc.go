// Package app composes the reward engine's services into a running
// application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── session/        # Focus session aggregate and status machine
//	│   ├── catalog/        # Module definitions, instances, assembly snapshots
//	│   └── currency/       # Balances and transaction records
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (SessionStore, LedgerStore, ...)
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── postgres/       # PostgreSQL implementation for production
//	│   └── rediscache/     # Read-through balance cache decorator
//	├── services/           # Business logic
//	│   ├── sessions/       # Session state machine
//	│   ├── assembly/       # Effect aggregation over assembly snapshots
//	│   ├── rewards/        # Reward policy and pure calculator
//	│   └── ledger/         # Atomic credits, history, reconciler
//	├── events/             # In-process event log
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
//
// Data flows in one direction: a completed session fact feeds the assembly
// aggregator, whose rate feeds the reward calculator, whose amounts the
// ledger commits atomically. The ledger is the system of record for both
// currencies; everything upstream is recomputable.
package app
