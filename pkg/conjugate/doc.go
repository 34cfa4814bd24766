// Package conjugate caches the algebra derived from a diffusion precision matrix:
// its inverse, the lower Cholesky factor of that inverse and its log-determinant.
//
// The transform is built whole from one precision matrix and dropped whole on
// invalidation; it is never patched.
package conjugate
