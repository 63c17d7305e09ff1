// Package generator implements the vocoder generator family: HiFiGAN
// and the source-filter decomposed SiFiGAN and SiFiGANDirect variants.
//
// All three share the same backbone: an input convolution feeds a
// ladder of strided transposed-convolution stages that double the
// temporal resolution pyramid (channel count halves per stage), each
// stage followed by a group of parallel residual blocks whose outputs
// are averaged. The SiFiGAN variants split the backbone into a source
// network that generates an excitation waveform under pitch-adaptive
// residual blocks, and a filter network that shapes it into audio,
// conditioned on the source network's activations.
//
// Generators are constructed from config structs with validated stage
// descriptors; construction errors are fatal, forward-time shape errors
// propagate to the caller, and nothing is silently broadcast or
// truncated. Weights are read-only during Forward, so concurrent
// forward calls on different inputs are safe.
package generator
