// Package diffusion models continuous traits evolving by Brownian motion along a tree.
//
// The diffusion precision P is a d×d matrix parameter. Node partials carry a trait
// mean and a scalar precision p, meaning the node value is distributed as N(m, V/p)
// with V = P⁻¹. Tips are observed exactly (p = +Inf). Pushing a partial along a branch
// of normalised length τ gives 1/p' = 1/p + τ; merging two partials adds precisions
// and averages means.
package diffusion
