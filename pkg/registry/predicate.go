package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// wazero measures memory in 64KB pages; 256 pages = 16MB per predicate run.
const wasmMemoryLimitPages = 256

// Predicate is a boolean check over an operation's output value.
type Predicate interface {
	Eval(ctx context.Context, output any) (bool, error)
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(ctx context.Context, output any) (bool, error)

// Eval implements Predicate.
func (f PredicateFunc) Eval(ctx context.Context, output any) (bool, error) {
	return f(ctx, output)
}

// PredicateRegistry maps predicate identifiers to output predicates. Native
// Go, CEL, and sandboxed WASM predicates share one namespace.
type PredicateRegistry struct {
	mu         sync.RWMutex
	frozen     bool
	predicates map[string]Predicate

	// lazily created on first RegisterWASM; deny-by-default (no filesystem,
	// no network, no env).
	wasmRuntime wazero.Runtime
}

// NewPredicateRegistry creates an empty predicate registry.
func NewPredicateRegistry() *PredicateRegistry {
	return &PredicateRegistry{predicates: make(map[string]Predicate)}
}

// Register stores a native predicate under id.
func (r *PredicateRegistry) Register(id string, p Predicate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.put(id, p)
}

// RegisterFunc stores a function predicate under id.
func (r *PredicateRegistry) RegisterFunc(id string, fn PredicateFunc) error {
	return r.Register(id, fn)
}

// RegisterCEL compiles a CEL expression over the variable `output` and stores
// it under id. The expression must produce a boolean.
func (r *PredicateRegistry) RegisterCEL(id, expr string) error {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
	)
	if err != nil {
		return fmt.Errorf("registry: cel environment for %q: %w", id, err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("registry: cel compile %q: %w", id, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("registry: cel program %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.put(id, &celPredicate{id: id, prg: prg})
}

// RegisterWASM compiles a WASI module and stores it as a predicate under id.
// Protocol: the module reads the JSON-encoded output value on stdin and
// writes "true" or "false" to stdout. The module runs sandboxed with no
// filesystem, network, or environment access.
func (r *PredicateRegistry) RegisterWASM(ctx context.Context, id string, wasm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wasmRuntime == nil {
		cfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(wasmMemoryLimitPages)
		r.wasmRuntime = wazero.NewRuntimeWithConfig(ctx, cfg)
		wasi_snapshot_preview1.MustInstantiate(ctx, r.wasmRuntime)
	}

	compiled, err := r.wasmRuntime.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("registry: wasm compile %q: %w", id, err)
	}
	return r.put(id, &wasmPredicate{id: id, runtime: r.wasmRuntime, compiled: compiled})
}

// Get returns the predicate registered under id.
func (r *PredicateRegistry) Get(id string) (Predicate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.predicates[id]
	if !ok {
		return nil, kernelerr.Newf(kernelerr.CodePredicateNotFound, "predicate %q is not registered", id)
	}
	return p, nil
}

// Freeze ends the bootstrap phase.
func (r *PredicateRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Len returns the number of registered predicates.
func (r *PredicateRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.predicates)
}

// Close releases the WASM runtime, if one was created.
func (r *PredicateRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wasmRuntime == nil {
		return nil
	}
	err := r.wasmRuntime.Close(ctx)
	r.wasmRuntime = nil
	return err
}

// put assumes r.mu is held for writing.
func (r *PredicateRegistry) put(id string, p Predicate) error {
	if r.frozen {
		return fmt.Errorf("%w: predicate %q", ErrFrozen, id)
	}
	if _, ok := r.predicates[id]; ok {
		return fmt.Errorf("%w: predicate %q", ErrAlreadyRegistered, id)
	}
	r.predicates[id] = p
	return nil
}

type celPredicate struct {
	id  string
	prg cel.Program
}

func (p *celPredicate) Eval(ctx context.Context, output any) (bool, error) {
	plain, err := toPlain(output)
	if err != nil {
		return false, fmt.Errorf("cel predicate %q: output not serializable: %w", p.id, err)
	}
	val, _, err := p.prg.ContextEval(ctx, map[string]any{"output": plain})
	if err != nil {
		return false, fmt.Errorf("cel predicate %q: %w", p.id, err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel predicate %q returned %T, want bool", p.id, val.Value())
	}
	return b, nil
}

type wasmPredicate struct {
	id       string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

func (p *wasmPredicate) Eval(ctx context.Context, output any) (bool, error) {
	input, err := json.Marshal(output)
	if err != nil {
		return false, fmt.Errorf("wasm predicate %q: output not serializable: %w", p.id, err)
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, cfg)
	if err != nil {
		// WASI modules signal completion through proc_exit; exit code 0 is
		// a normal return, everything else is a predicate failure.
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return false, fmt.Errorf("wasm predicate %q: %w", p.id, err)
		}
	} else {
		defer func() { _ = mod.Close(ctx) }()
	}

	if stderr.Len() > 0 {
		return false, fmt.Errorf("wasm predicate %q: stderr: %s", p.id, stderr.String())
	}

	switch out := strings.TrimSpace(stdout.String()); out {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("wasm predicate %q wrote %q, want true or false", p.id, out)
	}
}

// toPlain round-trips a value through JSON so CEL sees only maps, slices,
// and scalars.
func toPlain(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	return plain, nil
}
