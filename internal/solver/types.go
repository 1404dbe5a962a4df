// Package solver implements the nonlinear factor-graph estimator: one state
// node per reference timestamp, bound by IMU preintegration and bias
// random-walk factors to its neighbor and by an interpolated Vicon factor to
// the motion-capture trajectory, jointly optimized with the IMU/Vicon
// extrinsic calibration (spec.md §4.3).
package solver

import (
	"github.com/relabs-tech/vicalib/internal/manifold"
	"gonum.org/v1/gonum/mat"
)

// StateNode is the trajectory estimate at one reference timestamp: IMU-body
// orientation expressed in the Vicon world frame, position, velocity, and
// the gyro/accel bias estimates in force at that time (spec.md §3 "State
// node").
type StateNode struct {
	R  *mat.Dense // 3x3, IMU-body-to-world
	P  [3]float64
	V  [3]float64
	Bg [3]float64
	Ba [3]float64
}

// Clone deep-copies the rotation matrix so retractions never alias a
// previous iterate.
func (n StateNode) Clone() StateNode {
	var r mat.Dense
	r.CloneFrom(n.R)
	return StateNode{R: &r, P: n.P, V: n.V, Bg: n.Bg, Ba: n.Ba}
}

// Calibration holds the shared unknowns spec.md §3 lists under "Calibration
// unknowns": the IMU-to-Vicon-marker rotation, the (usually fixed) lever
// arm between the IMU origin and the marker centroid, gravity direction in
// the Vicon frame, and the IMU/Vicon clock offset.
type Calibration struct {
	RIV         *mat.Dense // 3x3
	PositionArm [3]float64 // t_IV, spec.md §9 Open Question b
	Gravity     manifold.Gravity
	Toff        float64
}

func (c Calibration) Clone() Calibration {
	var r mat.Dense
	r.CloneFrom(c.RIV)
	return Calibration{RIV: &r, PositionArm: c.PositionArm, Gravity: c.Gravity, Toff: c.Toff}
}
