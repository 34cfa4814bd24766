/*
Package tree provides the rooted binary tree consumed by every model.

Nodes are identified by their index into flat arrays: tips take 0..n-1 in taxon order
and internal nodes take n..2n-2. The read-only Tree interface is what models depend on;
Model is the mutable implementation used by proposals. It is a source of the model
graph, so every mutation notifies dependents.

Walks use explicit stacks so depth is bounded by memory, not by the goroutine stack.
*/
package tree
