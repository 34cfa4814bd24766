/*
Package domain contains the shared vocabulary of the canopy engine.

It defines the error taxonomy used by every model, the lifecycle events emitted while
caches are recomputed and transactions are resolved, and the checkpoint record exposed
to persistence adapters. This package is kept pure and free of I/O, following the same
hexagonal split as the rest of the module.

# Key Entities

  - Error: A fatal failure tagged with one of ErrConfiguration, ErrNumerical or ErrProtocol.
  - LifecycleHooks: Callbacks fired on recompute, store, restore, accept and proposal events.
  - Checkpoint: A JSON snapshot of a chain (tree, parameters, statistics).
*/
package domain
