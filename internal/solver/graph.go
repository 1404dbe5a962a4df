package solver

import (
	"github.com/relabs-tech/vicalib/internal/config"
	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/vicon"
	"github.com/sirupsen/logrus"
)

// GraphSolver materializes one state node per reference timestamp and binds
// it to its neighbor via an IMU preintegration factor and a bias
// random-walk factor, and to the Vicon trajectory via an interpolated-pose
// factor, jointly estimating the shared extrinsic calibration (spec.md §3,
// §4.3).
type GraphSolver struct {
	cfg    config.Config
	prop   *imu.Propagator
	interp *vicon.Interpolator
	log    *logrus.Entry

	refTimes []float64
	nodes    []StateNode
	calib    Calibration

	freeRIV  bool
	freeArm  bool
	freeGrav bool
	freeToff bool

	layout *Layout

	// onIteration, when set, is invoked once per LM iteration with the
	// current iteration index, cost, and damping factor (SPEC_FULL.md
	// "optional progress telemetry" external collaborator).
	onIteration func(iter int, cost, lambda float64)
}

// SetProgressCallback installs a callback invoked once per Levenberg-
// Marquardt iteration. Passing nil disables it. The callback must not
// block the optimizer loop.
func (g *GraphSolver) SetProgressCallback(fn func(iter int, cost, lambda float64)) {
	g.onIteration = fn
}

// NewGraphSolver wires a GraphSolver to its already-populated IMU propagator
// and Vicon interpolator (spec.md §9 "No hidden global state": every
// dependency is passed in explicitly).
func NewGraphSolver(cfg config.Config, prop *imu.Propagator, interp *vicon.Interpolator, log *logrus.Entry) *GraphSolver {
	return &GraphSolver{cfg: cfg, prop: prop, interp: interp, log: log}
}

// BuildAndSolve validates coverage, initializes the graph, applies the
// observability guard, and runs Levenberg-Marquardt to convergence
// (spec.md §4.3).
func (g *GraphSolver) BuildAndSolve(refTimes []float64, shouldStop func() bool) (*Result, error) {
	if len(refTimes) < 2 {
		return nil, &InsufficientDataError{Reason: "need at least 2 reference timestamps to form a graph"}
	}

	tMinI, tMaxI, okI := g.prop.Extent()
	tMinV, tMaxV, okV := g.interp.Extent()
	if !okI || !okV {
		return nil, &InsufficientDataError{Reason: "empty IMU or Vicon buffer"}
	}
	if refTimes[0] < tMinI || refTimes[len(refTimes)-1] > tMaxI {
		return nil, &OutOfRangeError{Reason: "reference timestamps exceed IMU buffer extent"}
	}
	if refTimes[0] < tMinV || refTimes[len(refTimes)-1] > tMaxV {
		return nil, &OutOfRangeError{Reason: "reference timestamps exceed Vicon buffer extent"}
	}

	g.refTimes = refTimes
	g.freeRIV = g.cfg.EstimateRIV
	g.freeArm = g.cfg.EstimatePositionArm
	g.freeGrav = g.cfg.EstimateGravity
	g.freeToff = g.cfg.EstimateTimeOffset

	if err := g.initialize(); err != nil {
		return nil, err
	}

	g.applyObservabilityGuard()
	g.layout = NewLayout(len(g.nodes), g.freeRIV, g.freeArm, g.freeGrav, g.freeToff)

	return g.optimize(shouldStop)
}
