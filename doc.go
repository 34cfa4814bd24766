/*
Package canopy is the caching core of a Markov chain Monte Carlo sampler for
phylogenetic models with spatially grouped taxa and continuous traits.

A sampler proposes a change (a node height, a trait value, a subtree move), evaluates
the posterior, and keeps or discards the change. Most of the model is unaffected by any
single proposal, so canopy keeps every derived quantity in a dirty-flag cache and only
recomputes what a change reaches.

# Concept

Models are nodes of an explicit dependency graph (package model). A change to a
parameter or the tree is pushed down the graph in registration order and marks caches
dirty; values are recomputed lazily on the next read. Every proposal runs inside a
transaction: caches are stored when it begins and either accepted or restored when it
ends, so a rejected proposal costs no recomputation.

On top of the graph sit:

  - accumulate: bottom-up grouping of tips into contiguous groups.
  - conjugate: memoised inverse, Cholesky factor and log-determinant of the diffusion
    precision.
  - diffusion and traversal: the Brownian likelihood of tip traits and the pre-order
    passes that simulate traits or compute tip gradients.
  - statistic and gradient: values derived from groups and traversals, the gradient
    check report and a gradient descent.
  - sampler: operators, Metropolis steps and checkpoints.

# Usage

Engine builds all of this from a scenario file:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/canopy"
	)

	func main() {
		eng, err := canopy.Load("islands.yaml")
		if err != nil {
			log.Fatal(err)
		}
		defer eng.Close()

		if err := eng.Run(context.Background(), 1000); err != nil {
			log.Fatal(err)
		}
		stats, err := eng.Statistics()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(stats)
	}

The same engine backs the canopy command line tool, its HTTP API and its MCP server.
*/
package canopy
