// Package statistic holds the readers layered on grouping and traversal results:
// likelihood terms and summary statistics recomputed from whatever their providers
// cache.
package statistic
