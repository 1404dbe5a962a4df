package vicon

import "errors"

// ErrNonMonotonic mirrors imu.ErrNonMonotonic for pose samples (spec.md §3).
var ErrNonMonotonic = errors.New("vicon: sample timestamp not strictly monotonic")

// ErrNonUnitQuaternion is returned by Feed when ‖q‖ deviates from 1 by more
// than the renormalization tolerance (spec.md §4.2).
var ErrNonUnitQuaternion = errors.New("vicon: quaternion not unit-norm within tolerance")

// ErrOutOfRange is returned by Interpolate when t falls strictly outside
// the buffer's extent (spec.md §4.2 "no extrapolation").
var ErrOutOfRange = errors.New("vicon: query timestamp out of buffer range")

// ErrEmptyBuffer is returned by Interpolate when no samples have been fed.
var ErrEmptyBuffer = errors.New("vicon: interpolator buffer is empty")
