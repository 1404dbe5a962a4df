package vicon

import "gonum.org/v1/gonum/mat"

// Sample is a single Vicon pose reading: timestamp (seconds), unit
// quaternion [x,y,z,w], position, and per-sample 3x3 SPD covariances for
// orientation and position (spec.md §3 "Pose sample").
type Sample struct {
	T        float64
	Q        [4]float64
	P        [3]float64
	CovR     *mat.SymDense // 3x3
	CovP     *mat.SymDense // 3x3
}

// Interpolated is the result of querying the interpolator at a timestamp:
// an SE(3) pose, its propagated 6x6 covariance ([rotation(3), position(3)]
// block order), and the time-derivative of the spline at that point
// (spec.md §4.2 "Time offset": "returns not only the pose but the
// time-derivative ... enabling the solver to form the Jacobian with
// respect to tₒff analytically").
type Interpolated struct {
	R        *mat.Dense // 3x3
	P        [3]float64
	CovR     *mat.SymDense // 3x3, Σ_R(t)
	CovP     *mat.SymDense // 3x3, Σ_p(t)
	Cov6     *mat.SymDense // 6x6 combined [rot, pos]
	AngVel   [3]float64    // d/dt of orientation tangent
	LinVel   [3]float64    // d/dt of position
}

// unitTolerance is the ‖q‖-1 tolerance beyond which Feed rejects instead of
// silently renormalizing (spec.md §4.2).
const unitTolerance = 1e-6
