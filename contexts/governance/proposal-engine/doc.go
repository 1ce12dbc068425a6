// Package proposalengine implements the proposal engine inside the governance
// context: proposal lifecycle, the vote ledger, and tally/decision computation.
//
// Layering:
// - domain: core entities, invariants, errors, pure decision rules
// - application: commands/queries/workers using explicit ports
// - ports: stable boundaries for persistence/projections/events
// - adapters: concrete HTTP, memory, and postgres implementations
// - transport: module-private DTOs for HTTP contracts
//
// Boundary notes:
// - Keep this module self-contained under the governance context.
// - Do not import other context adapters into domain/application.
// - Voting weight is read from the local share-ledger projection only; commands
//   never call out of process mid-mutation.
package proposalengine
