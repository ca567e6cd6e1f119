// Package app composes the sensor daemon from its parts and manages their
// lifecycle. It is a wiring layer: refresh semantics live in
// internal/app/services/refresh, persistence behind internal/app/storage, and
// transport details under internal/app/transport.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── device/         # Registered meters and resolved profiles
//	│   ├── reading/        # Readings, statuses, normalization
//	│   └── history/        # Recorded samples
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # DeviceStore, StatusStore, HistoryStore
//	│   ├── memory/         # In-memory implementation
//	│   ├── postgres/       # PostgreSQL implementation
//	│   └── jsonl/          # Append-only file history
//	├── transport/          # The two ways to reach a meter
//	│   ├── scan/           # Broadcast scan sessions and packet parsing
//	│   └── cloud/          # Vendor REST client
//	├── services/           # Business logic
//	│   ├── refresh/        # Engine, transport router, scheduler
//	│   ├── devices/        # Registry and profile resolution
//	│   └── history/        # Sample recording and retention
//	├── sinks/              # Presentation and history fan-out adapters
//	├── httpapi/            # REST handlers and websocket stream
//	├── metrics/            # Prometheus collectors
//	├── system/             # Service lifecycle management
//	└── runtime/            # Config to running daemon assembly
//
// # Responsibilities
//
// The app package composes services with their stores and sinks, builds one
// refresh engine plus scheduler per registered device, and exposes Start and
// Stop for the whole set. Engines are constructed once from the registry at
// build time; a registry change takes effect on the next start.
package app
