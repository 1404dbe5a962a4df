package solver

import (
	"github.com/relabs-tech/vicalib/internal/manifold"
)

// initialize builds the starting iterate for every reference timestamp from
// the interpolated Vicon trajectory and a coarse accelerometer alignment for
// gravity (spec.md §4.3 "Initialization").
//
// Open-question resolutions (spec.md §9), recorded here and in DESIGN.md:
//   - Rᴵⱽ starts at identity absent any prior knowledge of the mount.
//   - t_IV (lever arm) starts at whatever the configuration supplies
//     (zero by default); estimating it is off by default.
//   - gⱽ starts from the body-frame accelerometer average over the first
//     reference interval, rotated into the world frame by the first node's
//     orientation — valid as long as the rig is approximately static there.
func (g *GraphSolver) initialize() error {
	g.calib = Calibration{
		RIV:         manifold.Identity3(),
		PositionArm: g.cfg.PositionArm,
		Toff:        0,
	}

	g.nodes = make([]StateNode, len(g.refTimes))
	for k, t := range g.refTimes {
		obs, err := g.interp.Interpolate(t)
		if err != nil {
			return &OutOfRangeError{Reason: err.Error()}
		}
		// Rᴵⱽ = I initially, so R_k = R̃(t)·Rᴵⱽᵀ = R̃(t).
		g.nodes[k] = StateNode{
			R:  obs.R,
			P:  obs.P,
			V:  obs.LinVel,
			Bg: [3]float64{},
			Ba: [3]float64{},
		}
	}

	t0 := g.refTimes[0]
	t1 := t0
	if len(g.refTimes) > 1 {
		t1 = g.refTimes[1]
	}
	accelAvg, ok := g.prop.AverageAccel(t0, t1)
	dir := [3]float64{0, 0, -1}
	if ok {
		worldAccel := matVec(g.nodes[0].R, accelAvg)
		dir = neg3(worldAccel)
	}
	g.calib.Gravity = manifold.NewGravity(dir)

	return nil
}
