package gate

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/gatehouse/pkg/canonical"
	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
)

const (
	defaultMaxPayloadBytes = 1 << 20 // 1 MiB
	defaultMaxPayloadDepth = 64
)

type schemaConfig struct {
	maxBytes int
	maxDepth int
}

// SchemaOption configures the schema gate.
type SchemaOption func(*schemaConfig)

// WithMaxPayloadBytes overrides the serialized-size ceiling.
func WithMaxPayloadBytes(n int) SchemaOption {
	return func(c *schemaConfig) { c.maxBytes = n }
}

// WithMaxPayloadDepth overrides the nesting-depth ceiling.
func WithMaxPayloadDepth(n int) SchemaOption {
	return func(c *schemaConfig) { c.maxDepth = n }
}

// Schema validates the payload against a registered structural schema.
// The size and depth ceilings run before structural validation, and a
// validator that mutates its input is itself an invariant violation.
func Schema(schemas *registry.SchemaRegistry, schemaID string, payload any, opts ...SchemaOption) crossing.Gate {
	cfg := schemaConfig{maxBytes: defaultMaxPayloadBytes, maxDepth: defaultMaxPayloadDepth}
	for _, opt := range opts {
		opt(&cfg)
	}

	return crossing.NewGate("schema", func(_ context.Context, c *crossing.Context) error {
		entry := c.Entry()
		entry.SchemaID = schemaID

		raw, err := json.Marshal(payload)
		if err != nil {
			entry.SchemaValid = boolPtr(false)
			return kernelerr.Wrap(kernelerr.CodePayloadValidation, err, "payload is not serializable").
				With("schema_id", schemaID)
		}

		// 1. Cheap ceilings before structural validation.
		if len(raw) > cfg.maxBytes {
			entry.SchemaValid = boolPtr(false)
			return kernelerr.New(kernelerr.CodePayloadTooLarge, "payload exceeds size ceiling").
				With("dimension", "bytes").
				With("limit", cfg.maxBytes).
				With("actual", len(raw))
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			entry.SchemaValid = boolPtr(false)
			return kernelerr.Wrap(kernelerr.CodePayloadValidation, err, "payload is not valid JSON").
				With("schema_id", schemaID)
		}
		if depth := payloadDepth(doc); depth > cfg.maxDepth {
			entry.SchemaValid = boolPtr(false)
			return kernelerr.New(kernelerr.CodePayloadTooLarge, "payload exceeds depth ceiling").
				With("dimension", "depth").
				With("limit", cfg.maxDepth).
				With("actual", depth)
		}

		// 2. Resolve the schema.
		sch, err := schemas.Get(schemaID)
		if err != nil {
			entry.SchemaValid = boolPtr(false)
			return err
		}

		// 3. Structural validation, bracketed by a mutation check.
		preHash, err := canonical.Hash(doc)
		if err != nil {
			entry.SchemaValid = boolPtr(false)
			return err
		}
		payloadHash := "sha256:" + preHash
		entry.PayloadHash = payloadHash

		validationErr := sch.Validate(doc)
		postHash, err := canonical.Hash(doc)
		if err != nil {
			entry.SchemaValid = boolPtr(false)
			return err
		}
		if preHash != postHash {
			entry.SchemaValid = boolPtr(false)
			return kernelerr.New(kernelerr.CodeInvariantViolation, "structural validation mutated the payload").
				With("schema_id", schemaID).
				With("payload_hash_before", preHash).
				With("payload_hash_after", postHash)
		}

		if validationErr != nil {
			entry.SchemaValid = boolPtr(false)
			return validationFailure(schemaID, payloadHash, validationErr)
		}

		entry.SchemaValid = boolPtr(true)
		return nil
	})
}

// validationFailure converts a jsonschema error into the kernel's
// typed validation error. The raw payload never appears in it.
func validationFailure(schemaID, payloadHash string, err error) error {
	ve := &kernelerr.ValidationError{
		SchemaID:    schemaID,
		PayloadHash: payloadHash,
	}
	if cause, ok := err.(*jsonschema.ValidationError); ok {
		ve.Violations = collectViolations(cause, nil)
	} else {
		ve.Violations = []kernelerr.FieldViolation{{Path: "/", Message: err.Error()}}
	}
	return ve
}

// collectViolations flattens the cause tree into leaf violations.
func collectViolations(ve *jsonschema.ValidationError, out []kernelerr.FieldViolation) []kernelerr.FieldViolation {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return append(out, kernelerr.FieldViolation{Path: path, Message: ve.Message})
	}
	for _, cause := range ve.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

// payloadDepth reports the maximum nesting depth of a decoded JSON
// value. Scalars have depth 1.
func payloadDepth(v any) int {
	switch val := v.(type) {
	case map[string]any:
		deepest := 0
		for _, child := range val {
			if d := payloadDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case []any:
		deepest := 0
		for _, child := range val {
			if d := payloadDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	default:
		return 1
	}
}
