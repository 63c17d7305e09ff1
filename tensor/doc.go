// Package tensor provides the rank-3 (batch, channel, time) float64
// arrays passed between vocoder layers.
//
// Data is stored channel-major: all samples of one channel are
// contiguous, so per-channel rows can be handed directly to the
// SIMD-dispatched block operations in algo-vecmath.
//
// Shape-changing operations live in the layers package; this package
// only covers storage, element access, and elementwise arithmetic.
package tensor
