// Package accumulate partitions the tips of a tree into groups by merging sibling
// clades bottom-up under a merge rule.
//
// A walk visits nodes in post-order. Each tip starts as a singleton group. At an
// internal node the merge rule is consulted only when both children reduced to exactly
// one group; otherwise the children's groups are concatenated and never merged again
// higher up.
package accumulate
