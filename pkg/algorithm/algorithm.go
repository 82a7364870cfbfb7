// Package algorithm defines the pluggable per-step computation interfaces.
// The coordination protocol is algorithm-agnostic; everything specific to one
// federated tool lives behind Handler (server side) and ClientHandler
// (participant side), selected by algorithm name from a Registry.
package algorithm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgerrors "github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
)

// Round is the complete input to one server-side aggregation step: the
// current step and round, the per-participant local bags collected this
// round, and the directory result files belong in.
type Round struct {
	Step      string
	CommRound int
	ResultDir string
	Locals    map[string]protocol.Params
}

// Handler runs the server side of one algorithm. RunStep is called exactly
// once per round with the full set of local bags; it returns the next step
// name and the global bag to publish for it. Returning protocol.StepFinished
// completes the project.
type Handler interface {
	RunStep(ctx context.Context, round Round) (next string, globals protocol.Params, err error)
}

// StepResult is the client side's output for one step: the local bag, the
// data-type tag for every parameter in it, and whether this step's bag is
// masked before upload.
type StepResult struct {
	Parameters protocol.Params
	DataTypes  protocol.DataTypes
	Masked     bool
}

// ClientHandler computes one participant's local parameters for a step,
// given the step's global bag.
type ClientHandler interface {
	ComputeStep(ctx context.Context, step string, globals protocol.Params) (StepResult, error)
}

// Factory builds a server-side handler from the algorithm configuration the
// project was created with.
type Factory func(config protocol.Params) (Handler, error)

// Registry maps algorithm names to handler factories. It is passed to the
// server service explicitly so tests can run isolated instances.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = f
}

func (r *Registry) New(name string, config protocol.Params) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Join(pkgerrors.ErrNotFound, fmt.Errorf("algorithm %q is not registered", name))
	}

	return f(config)
}

// Default returns a registry with the built-in algorithms.
func Default() *Registry {
	r := NewRegistry()
	r.Register(StatsName, NewStatsServer)
	r.Register(TickTockName, NewTickTockServer)

	return r
}
