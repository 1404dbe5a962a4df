package solver

import (
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Result is everything BuildAndSolve produces: the converged trajectory,
// calibration, per-node marginal covariances, and the solve's own
// diagnostics (spec.md §4.3 "Output").
type Result struct {
	Nodes       []StateNode
	RefTimes    []float64
	Calibration Calibration

	// Marginals holds, per node, the 15x15 marginal covariance block, plus
	// (when estimated) the calibration unknowns' own marginal blocks under
	// the reserved keys below.
	Marginals map[string]*mat.SymDense

	FinalCost  float64
	Iterations int

	// Cancelled is set when shouldStop() fired before convergence.
	Cancelled bool
	// ConvergenceFailure is set when max_iterations was reached without
	// meeting the relative-cost or relative-parameter tolerance — a
	// non-fatal condition the caller surfaces in the info output
	// (spec.md §4.3 "Failure modes").
	ConvergenceFailure bool
}

const (
	marginalKeyRIV  = "R_IV"
	marginalKeyArm  = "t_IV"
	marginalKeyGrav = "g_V"
	marginalKeyToff = "t_off"
)

// marginalCovariance inverts the final (undamped) information matrix and
// slices out each node's 15x15 block plus any free calibration blocks
// (spec.md GLOSSARY "Marginal covariance").
func (g *GraphSolver) marginalCovariance(contributions []factorContribution) map[string]*mat.SymDense {
	info, _, err := accumulateNormalEquations(g.layout.Total, contributions)
	out := map[string]*mat.SymDense{}
	if err != nil {
		return out
	}

	inv, err := invertFull(info)
	if err != nil {
		return out
	}

	for k := range g.nodes {
		off := g.layout.nodeOffset(k)
		out[nodeMarginalKey(k)] = symFromDense(extractDense(inv, off, off, nodeDim, nodeDim))
	}
	if g.freeRIV {
		out[marginalKeyRIV] = symFromDense(extractDense(inv, g.layout.RIVOffset, g.layout.RIVOffset, 3, 3))
	}
	if g.freeArm {
		out[marginalKeyArm] = symFromDense(extractDense(inv, g.layout.ArmOffset, g.layout.ArmOffset, 3, 3))
	}
	if g.freeGrav {
		out[marginalKeyGrav] = symFromDense(extractDense(inv, g.layout.GravOffset, g.layout.GravOffset, 2, 2))
	}
	if g.freeToff {
		out[marginalKeyToff] = symFromDense(extractDense(inv, g.layout.ToffOffset, g.layout.ToffOffset, 1, 1))
	}
	return out
}

func nodeMarginalKey(k int) string {
	return "node_" + strconv.Itoa(k)
}

// NodeMarginal returns the 15x15 marginal covariance for node k, or nil if
// marginals were not computed for it.
func (r *Result) NodeMarginal(k int) *mat.SymDense {
	return r.Marginals[nodeMarginalKey(k)]
}

// CalibrationMarginals returns the marginal covariance blocks for whichever
// calibration unknowns were estimated (nil for any held fixed): Rᴵⱽ (3x3
// tangent), t_IV (3x3), gⱽ (2x2 chart tangent), tₒff (1x1).
func (r *Result) CalibrationMarginals() (riv, arm, grav, toff *mat.SymDense) {
	return r.Marginals[marginalKeyRIV], r.Marginals[marginalKeyArm], r.Marginals[marginalKeyGrav], r.Marginals[marginalKeyToff]
}

func invertFull(m *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, err
	}
	return &inv, nil
}

func extractDense(m *mat.Dense, row, col, r, c int) *mat.Dense {
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(row+i, col+j))
		}
	}
	return out
}
