/*
Package traversal runs pre-order passes over a tree that propagate diffusion statistics
from the root to the tips and publishes the per-node results as named traits.

Every pass goes through the same phases:

 1. Setup: the conjugate transform of the diffusion precision is made current.
 2. Root: the root statistic is initialised from the root prior.
 3. Per node: for each operation of the pre-order plan the parent's statistic is
    combined with the normalised branch length of the child.
 4. Completion: the traits are cached and read-only until a dependency changes.

The Kind chosen at construction decides the per-node rule: Simulate draws trait values,
Gradient computes full-conditional partials and the gradient of the data likelihood
with respect to the tip values.
*/
package traversal
