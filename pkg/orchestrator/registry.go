package orchestrator

import (
	"errors"
	"fmt"
)

// ErrUnknownOperation is returned when a config references an operation
// that was never registered. It surfaces at build time, before any
// deployment action runs.
var ErrUnknownOperation = errors.New("unknown operation")

// Registry maps `scope.method` operation references from the config to
// typed functions. It is populated once at startup; lookups after that
// are static.
type Registry struct {
	operations map[string]Operation
	cleanups   map[string]CleanupFunc
}

func NewRegistry() *Registry {
	return &Registry{
		operations: map[string]Operation{},
		cleanups:   map[string]CleanupFunc{},
	}
}

// RegisterOperation makes op resolvable as a deploy-step or extra-command
// reference.
func (r *Registry) RegisterOperation(name string, op Operation) {
	r.operations[name] = op
}

// RegisterCleanup makes fn resolvable as an on_delete reference.
func (r *Registry) RegisterCleanup(name string, fn CleanupFunc) {
	r.cleanups[name] = fn
}

// Operation resolves a deploy operation reference.
func (r *Registry) Operation(name string) (Operation, error) {
	op, ok := r.operations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return op, nil
}

// Cleanup resolves an on_delete reference.
func (r *Registry) Cleanup(name string) (CleanupFunc, error) {
	fn, ok := r.cleanups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return fn, nil
}
