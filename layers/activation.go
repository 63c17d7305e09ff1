package layers

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownActivation indicates an activation kind outside the supported set.
var ErrUnknownActivation = errors.New("layers: unknown activation")

// Activation identifies a supported nonlinearity.
type Activation int

const (
	// ActivationLeakyReLU is max(x, slope*x).
	ActivationLeakyReLU Activation = iota
	// ActivationReLU is max(x, 0).
	ActivationReLU
	// ActivationTanh is the hyperbolic tangent.
	ActivationTanh
	// ActivationSigmoid is the logistic function.
	ActivationSigmoid
)

// defaultLeakySlope is the slope used when none is configured.
const defaultLeakySlope = 0.01

// ActivationConfig selects a nonlinearity and its parameters.
// The configuration is resolved to a concrete function once at layer
// construction; nothing is dispatched by name at forward time.
type ActivationConfig struct {
	Kind Activation
	// Slope is the negative-input slope for ActivationLeakyReLU.
	// Zero selects the default slope of 0.01.
	Slope float64
}

// DefaultActivation returns the leaky ReLU with slope 0.1 used
// throughout the generator stacks.
func DefaultActivation() ActivationConfig {
	return ActivationConfig{Kind: ActivationLeakyReLU, Slope: 0.1}
}

// Resolve returns the concrete elementwise function for the configuration.
func (c ActivationConfig) Resolve() (func(float64) float64, error) {
	switch c.Kind {
	case ActivationLeakyReLU:
		slope := c.Slope
		if slope == 0 {
			slope = defaultLeakySlope
		}

		return func(x float64) float64 {
			if x < 0 {
				return x * slope
			}
			return x
		}, nil
	case ActivationReLU:
		return func(x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		}, nil
	case ActivationTanh:
		return math.Tanh, nil
	case ActivationSigmoid:
		return func(x float64) float64 {
			return 1 / (1 + math.Exp(-x))
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownActivation, c.Kind)
	}
}
