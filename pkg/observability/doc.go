/*
Package observability turns the lifecycle hooks of a chain into Prometheus metrics.

Metrics registers its collectors on its own registry so several engines, or tests, can
coexist in one process. Hooks returns a domain.LifecycleHooks value to pass to
model.WithLifecycleHooks and sampler.WithLifecycleHooks, and Handler serves the
registry in the Prometheus text format.
*/
package observability
