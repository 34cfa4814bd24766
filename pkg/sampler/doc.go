// Package sampler is a small Metropolis-Hastings driver over a model graph.
//
// Each step opens a transaction, lets one operator mutate the models, evaluates the
// posterior and either commits or rolls back. Numerical failures during a step count
// as rejections.
package sampler
