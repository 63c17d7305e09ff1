// Package layers implements the primitive neural-network layers the
// vocoder generators are assembled from: 1-D convolution, strided
// transposed convolution, residual blocks with parallel dilated
// convolutions, and the pitch-adaptive residual block whose effective
// dilation follows an externally supplied per-sample factor.
//
// All layers operate on rank-3 (batch, channel, time) tensors from the
// tensor package and use float64 throughout. Weights can be
// reparameterized with weight normalization (a magnitude/direction
// decomposition per output row) and collapsed back to plain weights
// for inference or export.
//
// Layers are safe for concurrent Forward calls on different inputs as
// long as no lifecycle method (ResetParameters, ApplyWeightNorm,
// RemoveWeightNorm) runs concurrently; Forward never mutates weights.
package layers
