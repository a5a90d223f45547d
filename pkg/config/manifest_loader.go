package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
)

// Manifest is a declarative bootstrap document: the schemas, roles, budgets,
// predicates, and contracts one deployment enforces.
type Manifest struct {
	Schemas    []SchemaConfig    `yaml:"schemas,omitempty" json:"schemas,omitempty"`
	Roles      []RoleConfig      `yaml:"roles,omitempty" json:"roles,omitempty"`
	Budgets    []BudgetConfig    `yaml:"budgets,omitempty" json:"budgets,omitempty"`
	Predicates []PredicateConfig `yaml:"predicates,omitempty" json:"predicates,omitempty"`
	Contracts  []ContractConfig  `yaml:"contracts,omitempty" json:"contracts,omitempty"`
}

// SchemaConfig binds a schema id to an inline JSON Schema document.
type SchemaConfig struct {
	ID     string `yaml:"id" json:"id"`
	Schema string `yaml:"schema" json:"schema"`
}

// RoleConfig grants a role its permission strings.
type RoleConfig struct {
	Role        string   `yaml:"role" json:"role"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// BudgetConfig caps one resource for one tenant.
type BudgetConfig struct {
	Tenant   string `yaml:"tenant" json:"tenant"`
	Resource string `yaml:"resource" json:"resource"`
	Limit    int64  `yaml:"limit" json:"limit"`
}

// PredicateConfig registers a CEL expression over the crossing output.
type PredicateConfig struct {
	ID  string `yaml:"id" json:"id"`
	CEL string `yaml:"cel" json:"cel"`
}

// ContractConfig declares a versioned interface contract. TTL is a Go
// duration string; empty means the registry default.
type ContractConfig struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Version  string `yaml:"version" json:"version"`
	SchemaID string `yaml:"schema_id,omitempty" json:"schema_id,omitempty"`
	TTL      string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Registries collects the enforcement tables a manifest populates. All
// fields must be set before Apply.
type Registries struct {
	Schemas    *registry.SchemaRegistry
	Roles      *registry.PermissionRegistry
	Budgets    *registry.BudgetRegistry
	Predicates *registry.PredicateRegistry
	Contracts  *registry.ContractRegistry
}

// NewRegistries creates a fresh, empty set of enforcement tables.
func NewRegistries() Registries {
	return Registries{
		Schemas:    registry.NewSchemaRegistry(),
		Roles:      registry.NewPermissionRegistry(),
		Budgets:    registry.NewBudgetRegistry(),
		Predicates: registry.NewPredicateRegistry(),
		Contracts:  registry.NewContractRegistry(),
	}
}

// Freeze ends the bootstrap phase on every table.
func (r Registries) Freeze() {
	r.Schemas.Freeze()
	r.Roles.Freeze()
	r.Budgets.Freeze()
	r.Predicates.Freeze()
	r.Contracts.Freeze()
}

// LoadManifest reads and parses a boundary manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %q: %w", path, err)
	}

	return &m, nil
}

// Apply registers everything the manifest declares, stopping on the first
// error. The caller decides when to freeze.
func (m *Manifest) Apply(r Registries) error {
	for _, s := range m.Schemas {
		if err := r.Schemas.Register(s.ID, []byte(s.Schema)); err != nil {
			return err
		}
	}
	for _, role := range m.Roles {
		if err := r.Roles.RegisterRole(role.Role, role.Permissions); err != nil {
			return err
		}
	}
	for _, b := range m.Budgets {
		if err := r.Budgets.RegisterLimit(b.Tenant, b.Resource, b.Limit); err != nil {
			return err
		}
	}
	for _, p := range m.Predicates {
		if err := r.Predicates.RegisterCEL(p.ID, p.CEL); err != nil {
			return err
		}
	}
	for _, c := range m.Contracts {
		var ttl time.Duration
		if c.TTL != "" {
			d, err := time.ParseDuration(c.TTL)
			if err != nil {
				return fmt.Errorf("manifest: contract %q ttl %q: %w", c.ID, c.TTL, err)
			}
			ttl = d
		}
		contract := registry.Contract{
			ID:       c.ID,
			Name:     c.Name,
			Version:  c.Version,
			SchemaID: c.SchemaID,
			TTL:      ttl,
		}
		if err := r.Contracts.Register(contract); err != nil {
			return err
		}
	}
	return nil
}
