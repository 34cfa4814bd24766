/*
Package ports defines the driven ports of canopy.

These interfaces decouple chains from the places their snapshots are kept, so the same
sampler can checkpoint to memory, to JSON files or to Redis.

# Key Interfaces

  - CheckpointStore: persists and loads chain checkpoints.
  - DistributedLocker: serialises checkpoint writes of one chain across processes.
*/
package ports
