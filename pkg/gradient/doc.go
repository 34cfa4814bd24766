// Package gradient exposes gradients of log densities with respect to model
// parameters, checks them against finite differences and climbs them.
package gradient
