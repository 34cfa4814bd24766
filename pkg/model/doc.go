/*
Package model implements the dirty-state caching protocol shared by every stochastic
model of the engine.

A model is a node of an explicit dependency Graph. Upstream changes are pushed down the
graph in registration (and therefore topological) order and only mark downstream caches
dirty; values are recomputed lazily on the next read. Around every proposal the sampler
opens a Transaction which stores all nodes and is resolved by exactly one Commit
(accept) or Rollback (restore).

# Key Components

  - Cache: a lazily recomputed value with store/restore/accept semantics.
  - Graph: the registry of nodes and their dependencies.
  - Transaction: the store/accept/restore triple as a single object.
  - Parameter, MatrixParameter: notifying vectors with quiet setters.

# Usage

	g := model.NewGraph()
	x := model.NewParameter("x", 1, 2, 3)
	_ = g.Register(x)

	sum := model.NewCache("sum", func() (float64, error) {
		return x.Value(0) + x.Value(1) + x.Value(2), nil
	})

	tx, _ := g.Begin()
	_ = x.Set(0, 10) // marks dependents dirty, computes nothing
	_ = tx.Rollback()
*/
package model
