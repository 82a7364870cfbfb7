package server

import (
	"context"
	"sync"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/errors"
	"github.com/TUM-AIMED/hyfed/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// Pool is the registry of live projects, keyed by project id and, for the
// compensator's indirect lookups, by the SHA-256 hash of the id. It is
// injected into the service rather than held as a process-wide singleton so
// tests can run isolated instances.
type Pool struct {
	mu sync.Mutex

	projects map[string]*Project
	hashes   map[string]string
}

func NewPool() *Pool {
	return &Pool{
		projects: make(map[string]*Project),
		hashes:   make(map[string]string),
	}
}

func (pl *Pool) Add(p *Project) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if _, ok := pl.projects[p.ID()]; ok {
		return errors.ErrEntityExists
	}
	pl.projects[p.ID()] = p
	pl.hashes[protocol.Hash(p.ID())] = p.ID()

	return nil
}

func (pl *Pool) Get(id string) (*Project, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.projects[id]
	if !ok {
		return nil, errors.ErrNotFound
	}

	return p, nil
}

// GetByHash resolves a project from the one-way hash of its id.
func (pl *Pool) GetByHash(hash string) (*Project, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	id, ok := pl.hashes[hash]
	if !ok {
		return nil, errors.ErrNotFound
	}
	p, ok := pl.projects[id]
	if !ok {
		return nil, errors.ErrNotFound
	}

	return p, nil
}

func (pl *Pool) IsRunning(id string) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.projects[id]
	if !ok {
		return false
	}
	status := p.Status()

	return status != protocol.StatusCreated && !status.Terminal()
}

// Delete evicts a project. Removal is refused mid-round; only projects that
// never started or already reached a terminal status may go.
func (pl *Pool) Delete(id string) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.projects[id]
	if !ok {
		return errors.ErrNotFound
	}
	status := p.Status()
	if status != protocol.StatusCreated && !status.Terminal() {
		return errors.ErrProjectNotRunning
	}

	delete(pl.projects, id)
	delete(pl.hashes, protocol.Hash(id))

	return nil
}

// Sweep removes every project whose clean-up grace period has elapsed and
// returns how many were evicted.
func (pl *Pool) Sweep() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var evicted int
	for id, p := range pl.projects {
		if p.CleanUpDue() {
			delete(pl.projects, id)
			delete(pl.hashes, protocol.Hash(id))
			evicted++
		}
	}

	return evicted
}

// RunSweeper sweeps at a fixed interval until the context is cancelled.
func (pl *Pool) RunSweeper(ctx context.Context, clock clockwork.Clock, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.After(interval):
			pl.Sweep()
		}
	}
}

func (pl *Pool) Len() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	return len(pl.projects)
}
