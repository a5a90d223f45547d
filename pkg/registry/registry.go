// Package registry holds the process-wide enforcement tables: structural
// schemas, role permissions, budget limits, output predicates, and interface
// contracts. Registries are populated during bootstrap and then frozen;
// re-registering a live identifier is an error, so enforcement rules cannot
// be swapped out mid-run.
package registry

import "errors"

var (
	// ErrAlreadyRegistered is returned when a non-expired identifier is
	// registered a second time.
	ErrAlreadyRegistered = errors.New("registry: identifier already registered")

	// ErrFrozen is returned by any registration attempted after Freeze.
	ErrFrozen = errors.New("registry: registry is frozen")

	// ErrContractNotFound is returned for an unknown contract id.
	ErrContractNotFound = errors.New("registry: contract not found")

	// ErrContractExpired is returned when a contract's TTL has lapsed.
	ErrContractExpired = errors.New("registry: contract expired")
)
