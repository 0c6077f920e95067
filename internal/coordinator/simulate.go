package coordinator

import (
	"context"

	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/ledger"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
)

// Simulation runs batches through the production coordinator code
// paths without persisting anything: the session proxy swallows
// commit and rollback, a private registry keeps simulated numbers
// away from the real sequences, and (unless a factory is supplied)
// the external ledger is a no-op.
type Simulation struct {
	coord *Coordinator
}

// NewSimulation derives a dry-run coordinator from a production
// config. The Registry and Lock of the given config are replaced; the
// ledger factory is replaced with a no-op unless cfg.Ledger is
// deliberately kept for simulations that should still talk to the
// bridge.
func NewSimulation(cfg Config, keepLedger bool) *Simulation {
	cfg.Registry = numbering.NewMemoryRegistry()
	cfg.Lock = numbering.NewMemoryLock()
	if !keepLedger || cfg.Ledger == nil {
		cfg.Ledger = ledger.NopFactory()
	}
	return &Simulation{coord: New(cfg)}
}

// Coordinator exposes the wrapped coordinator so callers can register
// requests inside Preview.
func (s *Simulation) Coordinator() *Coordinator {
	return s.coord
}

// Preview runs fn exactly like Coordinator.Run would, then rolls the
// real journal session back so no local rows survive. Request objects
// keep their simulated numbers so the caller can report them.
func (s *Simulation) Preview(ctx context.Context, sess journal.Tx, fn func(ctx context.Context) error) error {
	proxy := &sessionProxy{Tx: sess}
	err := s.coord.Run(ctx, proxy, fn)
	if rbErr := sess.Rollback(ctx); rbErr != nil && err == nil {
		err = rbErr
	}
	return err
}

// sessionProxy forwards journal operations and swallows the
// transaction boundary, so the simulated batch sees its own writes
// but nothing is ever committed.
type sessionProxy struct {
	journal.Tx
}

func (p *sessionProxy) Commit(ctx context.Context) error   { return nil }
func (p *sessionProxy) Rollback(ctx context.Context) error { return nil }
