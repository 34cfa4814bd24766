package model

import (
	"errors"

	"github.com/aretw0/canopy/pkg/domain"
)

// Transaction wraps one proposal: every node is stored when it begins, and exactly one
// of Commit or Rollback resolves it.
type Transaction struct {
	g    *Graph
	done bool
}

// Begin stores every node in topological order.
// Only one transaction may be open at a time.
func (g *Graph) Begin() (*Transaction, error) {
	if g.open != nil {
		return nil, domain.Protocolf("begin", "a transaction is already open")
	}
	for _, n := range g.nodes {
		n.StoreState()
	}
	tx := &Transaction{g: g}
	g.open = tx
	g.emit(g.hooks.OnStore, domain.EventStore)
	return tx, nil
}

// InTransaction reports whether a transaction is open.
func (g *Graph) InTransaction() bool { return g.open != nil }

// Commit accepts the proposal.
func (t *Transaction) Commit() error {
	if err := t.finish("commit"); err != nil {
		return err
	}
	for _, n := range t.g.nodes {
		n.AcceptState()
	}
	t.g.logger.Debug("transaction committed", "models", len(t.g.nodes))
	t.g.emit(t.g.hooks.OnAccept, domain.EventAccept)
	return nil
}

// Rollback restores every node in topological order, so downstream nodes may rely on
// their dependencies being restored first. Every node is restored even if one fails.
func (t *Transaction) Rollback() error {
	if err := t.finish("rollback"); err != nil {
		return err
	}
	var errs []error
	for _, n := range t.g.nodes {
		if err := n.RestoreState(); err != nil {
			errs = append(errs, err)
		}
	}
	t.g.logger.Debug("transaction rolled back", "models", len(t.g.nodes))
	t.g.emit(t.g.hooks.OnRestore, domain.EventRestore)
	return errors.Join(errs...)
}

// Done reports whether the transaction was resolved.
func (t *Transaction) Done() bool { return t.done }

func (t *Transaction) finish(op string) error {
	if t.done {
		return domain.Protocolf(op, "transaction already resolved")
	}
	t.done = true
	t.g.open = nil
	return nil
}
