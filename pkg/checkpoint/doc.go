/*
Package checkpoint serialises access to stored chain checkpoints.

A Manager wraps a ports.CheckpointStore with one lock per chain. Locks are reference
counted and dropped when no caller holds them. With a ports.DistributedLocker the lock
also spans processes.
*/
package checkpoint
