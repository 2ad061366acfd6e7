// Package datasync registers external data sources, synchronizes them on
// demand or in batches and remaps their fields into a target store through
// per-source transformation rules.
//
// # Architecture
//
// A sync request flows through four stages:
//
// 1. Validation: every data source carries a connection config whose shape
// must match its type (database, api, file, webhook, internal_module).
// All violations are reported at once.
//
// 2. Admission: the queue manager holds at most one queued or running item
// per data source. A second request for the same source is answered with
// the id of the item already in flight.
//
// 3. Execution: a bounded worker pool runs the executor for the source type,
// applies the source's mapping rules to the extracted records and enforces
// a per-item timeout.
//
// 4. Recording: every completed item appends exactly one entry to the
// append-only sync log, which supports filtered, paginated queries and
// aggregate statistics.
//
// # Quick Start
//
// Validate a catalog, then serve it:
//
//	datasync validate catalog.yaml
//	datasync serve --config datasync.yaml --seed catalog.yaml
//
// Sync a catalog once without a server:
//
//	datasync sync catalog.yaml --id orders
//
// Try a mapping transformation:
//
//	datasync preview --field price --value 100 --formula "value * 1.1"
//
// # Key Packages
//
//	pkg/datasource   - Data sources, connection configs and validation
//	pkg/mapping      - Field mapping rules and the expression engine
//	pkg/executor     - Per-type sync executors and the sync runner
//	pkg/queue        - Sync queue with per-source deduplication
//	pkg/batch        - Bounded fan-out of sync and test requests
//	pkg/history      - Append-only sync log with statistics
//	pkg/poller       - Cancellable queue status polling
//	pkg/scheduler    - Periodic sync of sources that are due
//	internal/api     - REST API under /api/v1
//
// # Configuration
//
// The service reads a YAML file with DATASYNC_ environment overrides:
//
//	server:
//	  addr: ":8080"
//	database:
//	  dsn: ""            # empty keeps all state in memory
//	batch:
//	  workers: 5
//	  item_timeout: 30s
//	scheduler:
//	  enabled: true
//	  spec: "@every 1m"
//
// Catalog files support ${VAR_NAME} substitution.
package datasync
