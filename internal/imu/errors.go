package imu

import "errors"

// ErrNonMonotonic is returned by Feed when a sample's timestamp does not
// strictly follow the previous one (spec.md §3 "Buffer invariant").
var ErrNonMonotonic = errors.New("imu: sample timestamp not strictly monotonic")

// ErrInsufficientData is returned by Preintegrate when the buffer does not
// straddle the requested interval or holds fewer than two in-range samples
// (spec.md §4.1 "Fails with InsufficientData").
var ErrInsufficientData = errors.New("imu: insufficient data for requested interval")
