// Package core defines the shared language of the thelook ETL system.
//
// This package contains:
//   - Entity names and their key columns
//   - Adapter and target configuration types
//   - Run ledger types (Run, EntityRun, Store)
//   - The error taxonomy shared by extraction and loading
//
// pkg/core imports only the standard library.
// All other packages depend on core, not the reverse.
package core
