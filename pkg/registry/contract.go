package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Contract describes one interface contract between a boundary and its
// callers: a versioned, optionally schema-backed agreement with an expiry.
type Contract struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	SchemaID string        `json:"schema_id,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`
}

type contractEntry struct {
	contract  Contract
	version   *semver.Version
	expiresAt time.Time
}

// ContractRegistry is a TTL-cached map of interface contracts. Expired
// entries behave as absent: lookups fail and the id may be re-registered.
type ContractRegistry struct {
	mu         sync.RWMutex
	frozen     bool
	entries    map[string]contractEntry
	defaultTTL time.Duration
	clock      func() time.Time
}

// ContractOption configures a ContractRegistry.
type ContractOption func(*ContractRegistry)

// WithContractClock overrides the registry clock, for tests.
func WithContractClock(clock func() time.Time) ContractOption {
	return func(r *ContractRegistry) { r.clock = clock }
}

// WithDefaultTTL sets the TTL applied to contracts that do not carry one.
func WithDefaultTTL(ttl time.Duration) ContractOption {
	return func(r *ContractRegistry) { r.defaultTTL = ttl }
}

// NewContractRegistry creates an empty contract registry. The default TTL is
// 24 hours.
func NewContractRegistry(opts ...ContractOption) *ContractRegistry {
	r := &ContractRegistry{
		entries:    make(map[string]contractEntry),
		defaultTTL: 24 * time.Hour,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a contract and stamps its expiry. Re-registering a live id
// is an error; an expired id may be replaced.
func (r *ContractRegistry) Register(c Contract) error {
	ver, err := semver.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("registry: contract %q version %q: %w", c.ID, c.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: contract %q", ErrFrozen, c.ID)
	}
	now := r.clock()
	if existing, ok := r.entries[c.ID]; ok && now.Before(existing.expiresAt) {
		return fmt.Errorf("%w: contract %q", ErrAlreadyRegistered, c.ID)
	}

	ttl := c.TTL
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	r.entries[c.ID] = contractEntry{
		contract:  c,
		version:   ver,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Get returns the contract for id. Unknown and expired ids are distinct
// errors.
func (r *ContractRegistry) Get(id string) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %q", ErrContractNotFound, id)
	}
	if !r.clock().Before(entry.expiresAt) {
		return Contract{}, fmt.Errorf("%w: %q expired at %s", ErrContractExpired, id, entry.expiresAt.Format(time.RFC3339))
	}
	return entry.contract, nil
}

// Compatible reports whether the live contract for id satisfies the given
// minimum version.
func (r *ContractRegistry) Compatible(id, minVersion string) (bool, error) {
	constraint, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return false, fmt.Errorf("registry: min version %q: %w", minVersion, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrContractNotFound, id)
	}
	if !r.clock().Before(entry.expiresAt) {
		return false, fmt.Errorf("%w: %q", ErrContractExpired, id)
	}
	return constraint.Check(entry.version), nil
}

// Freeze ends the bootstrap phase. Expiry still applies to frozen entries;
// freeze only stops new registration.
func (r *ContractRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Len returns the number of stored entries, including expired ones that have
// not been replaced.
func (r *ContractRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
