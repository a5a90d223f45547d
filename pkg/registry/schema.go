package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// SchemaRegistry maps schema identifiers to compiled JSON Schemas
// (Draft 2020-12).
type SchemaRegistry struct {
	mu      sync.RWMutex
	frozen  bool
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and stores a schema under id. Registering an id twice or
// after Freeze is an error; a schema that does not compile is a distinct
// schema-parse error.
func (r *SchemaRegistry) Register(id string, schema []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: schema %q", ErrFrozen, id)
	}
	if _, ok := r.schemas[id]; ok {
		return fmt.Errorf("%w: schema %q", ErrAlreadyRegistered, id)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://gatehouse.schemas.local/%s.schema.json", id)
	if err := c.AddResource(schemaURL, strings.NewReader(string(schema))); err != nil {
		return kernelerr.Wrapf(kernelerr.CodeSchemaParse, err, "schema %q failed to load", id)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return kernelerr.Wrapf(kernelerr.CodeSchemaParse, err, "schema %q failed to compile", id)
	}

	r.schemas[id] = compiled
	return nil
}

// Get returns the compiled schema for id.
func (r *SchemaRegistry) Get(id string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[id]
	if !ok {
		return nil, kernelerr.Newf(kernelerr.CodeSchemaNotFound, "schema %q is not registered", id)
	}
	return s, nil
}

// Freeze ends the bootstrap phase. All later registrations fail.
func (r *SchemaRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Len returns the number of registered schemas.
func (r *SchemaRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}
