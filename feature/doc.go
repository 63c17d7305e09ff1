// Package feature extracts log-mel spectrogram conditioning features
// from raw audio.
//
// Frames are Hann-windowed, transformed with an FFT plan from algo-fft,
// reduced to a power spectrum, and projected through a triangular mel
// filterbank before the log is taken. The resulting (1, mels, frames)
// tensor feeds the generator's conditioning input directly; with a
// matching hop size, a generator ladder whose scales multiply to that
// hop reconstructs audio of exactly frames*hop samples.
package feature
