// Package excitation derives the generator inputs that depend on the
// pitch contour: the sine-based excitation waveform at audio rate and
// the per-stage dilation-factor tensors that drive the pitch-adaptive
// residual blocks.
//
// Both are computed from a per-frame fundamental-frequency track, where
// a value of zero marks an unvoiced frame. The upsample scales
// configured here must describe the same ladder as the generator
// consuming the outputs, so every tensor lands on that ladder's exact
// stage resolutions.
package excitation
