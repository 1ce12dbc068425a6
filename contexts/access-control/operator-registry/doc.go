// Package operatorregistry implements the operator registry inside the
// access-control context: the explicit authorization capability consumed by
// the governance and custody services.
//
// Grants are plain records keyed by operator id; a grant is active until
// revoked. Root operators are seeded from configuration at startup, never
// hardcoded. Other contexts consume the capability through their own
// OperatorDirectory port, wired to this module in bootstrap.
package operatorregistry
