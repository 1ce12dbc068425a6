// Package sharecustody implements the share custody service inside the asset-custody
// context: the locked-balance sub-ledger and the fraction ownership registry.
//
// Layering:
// - domain: entities, invariants, errors
// - application: commands/queries/workers using explicit ports
// - ports: stable boundaries for persistence/projections/events
// - adapters: concrete HTTP, memory, and postgres implementations
// - transport: module-private DTOs for HTTP contracts
//
// Boundary notes:
// - The module keeps its own holdings/supply projection of the external share
//   ledger; locks are validated against that projection, never a remote call.
// - Fraction voting lives in the governance context; registration here only
//   records ownership and emits the event the poll is created from.
package sharecustody
