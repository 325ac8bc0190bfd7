package motor

import "github.com/pkg/errors"

// NewZeroGearingError returns an error for a group configured without a top speed.
func NewZeroGearingError(name string) error {
	return errors.Errorf("motor group %s needs a positive max rpm", name)
}

// NewZeroTicksPerRevolutionError returns an error for a group configured without an encoder
// resolution.
func NewZeroTicksPerRevolutionError(name string) error {
	return errors.Errorf("motor group %s needs positive ticks per revolution", name)
}
