// Package hook lets callers wrap named operations with functions that run
// before or after them, each receiving the previous function's result.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

var (
	ErrInvalidName        = errors.New("invalid operation name")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrDuplicateOperation = errors.New("operation already registered")
)

// DefaultPriority runs a hook after the operation.
const DefaultPriority = 100

// Func is an operation or a hook. It receives the current value and returns
// the next one.
type Func func(ctx context.Context, value any) (any, error)

type hook struct {
	priority int
	fn       Func
}

type operation struct {
	original Func
	hooks    []hook
}

// Registry holds named operations and their hooks. It is safe for
// concurrent use; hooks run without the registry lock held.
type Registry struct {
	mu     sync.RWMutex
	ops    map[string]*operation
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{ops: make(map[string]*operation), logger: logger}
}

// Register makes fn callable as name. Hooks attached earlier are kept.
func (r *Registry) Register(name string, fn Func) error {
	if err := validName(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("register %s: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[name]
	switch {
	case !ok:
		r.ops[name] = &operation{original: fn}
	case op.original != nil:
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, name)
	default:
		op.original = fn
	}
	r.logger.Debug("operation registered", zap.String("operation", name))
	return nil
}

// Attach adds fn to name. A negative priority runs fn before the
// operation, anything else after it. Hooks on the same side run by
// ascending priority, ties in attach order. Attaching to an unregistered
// name leaves a placeholder that fails when called.
func (r *Registry) Attach(name string, priority int, fn Func) error {
	if err := validName(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("attach %s: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[name]
	if !ok {
		r.logger.Warn("hook attached to unregistered operation", zap.String("operation", name))
		op = &operation{}
		r.ops[name] = op
	}
	op.hooks = append(op.hooks, hook{priority: priority, fn: fn})
	sort.SliceStable(op.hooks, func(i, j int) bool {
		return op.hooks[i].priority < op.hooks[j].priority
	})
	return nil
}

// Call runs the before hooks, the operation and the after hooks, threading
// value through each of them. The first error stops the chain.
func (r *Registry) Call(ctx context.Context, name string, value any) (any, error) {
	r.mu.RLock()
	op, ok := r.ops[name]
	var (
		original Func
		hooks    []hook
	)
	if ok {
		original = op.original
		hooks = append(hooks, op.hooks...)
	}
	r.mu.RUnlock()

	if original == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	chain := make([]Func, 0, len(hooks)+1)
	placed := false
	for _, h := range hooks {
		if h.priority >= 0 && !placed {
			chain = append(chain, original)
			placed = true
		}
		chain = append(chain, h.fn)
	}
	if !placed {
		chain = append(chain, original)
	}

	var err error
	for _, fn := range chain {
		if value, err = fn(ctx, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// Operations returns the known operation names, placeholders included.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hooks returns the number of hooks attached to name.
func (r *Registry) Hooks(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if op, ok := r.ops[name]; ok {
		return len(op.hooks)
	}
	return 0
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for _, c := range name {
		if !unicode.IsPrint(c) {
			return fmt.Errorf("%w: %q is not printable", ErrInvalidName, name)
		}
	}
	return nil
}
