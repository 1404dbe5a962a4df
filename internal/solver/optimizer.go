package solver

import (
	"math"

	"github.com/relabs-tech/vicalib/internal/manifold"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	initialDamping  = 1e-4
	dampingUp       = 10.0
	dampingDown     = 10.0
	paramTol        = 1e-7
)

// evaluateGraph linearizes every factor at (nodes, calib) and returns their
// contributions plus the total whitened cost, Σ_f r_fᵀ Σ_f⁻¹ r_f.
//
// The IMU edge window is [t_k+tₒff, t_{k+1}+tₒff] (spec.md §4.3), so unlike
// the other factors it cannot be preintegrated once up front: it is
// re-preintegrated here on every call, which means once for the initial
// iterate and once per trial step, accepted or rejected. Costly but
// literal — see DESIGN.md.
func (g *GraphSolver) evaluateGraph(nodes []StateNode, calib Calibration) ([]factorContribution, float64, error) {
	var contributions []factorContribution
	relin := g.cfg.RelinThreshold()

	for k := 0; k < len(nodes)-1; k++ {
		t1 := g.refTimes[k] + calib.Toff
		t2 := g.refTimes[k+1] + calib.Toff
		pm, err := g.prop.Preintegrate(t1, t2, nodes[k].Bg, nodes[k].Ba)
		if err != nil {
			return nil, 0, &InsufficientDataError{Reason: err.Error()}
		}
		contributions = append(contributions, imuFactor(g.layout, k, nodes[k], nodes[k+1], calib, pm, g.prop, t1, t2, relin, g.freeRIV, g.freeGrav, g.freeToff))
		dt := g.refTimes[k+1] - g.refTimes[k]
		contributions = append(contributions, biasWalkFactor(g.layout, k, nodes[k], nodes[k+1], dt, g.cfg.GyroscopeRandomWalk, g.cfg.AccelerometerRandomWalk))
	}

	for k := range nodes {
		t := g.refTimes[k] + calib.Toff
		obs, err := g.interp.Interpolate(t)
		if err != nil {
			return nil, 0, &OutOfRangeError{Reason: err.Error()}
		}
		contributions = append(contributions, viconFactor(g.layout, k, nodes[k], calib, obs, g.freeRIV, g.freeArm, g.freeToff))
	}

	cost := 0.0
	for _, c := range contributions {
		winv, err := invertSym(c.Cov)
		if err != nil {
			return nil, 0, &NumericalFailure{}
		}
		r := mat.NewVecDense(len(c.Res), c.Res)
		var wr mat.VecDense
		wr.MulVec(winv, r)
		cost += mat.Dot(r, &wr)
	}
	return contributions, cost, nil
}

func invertSym(cov *mat.SymDense) (*mat.Dense, error) {
	n := cov.Symmetric()
	dense := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dense.Set(i, j, cov.At(i, j))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(dense); err != nil {
		return nil, err
	}
	return &inv, nil
}

// accumulateNormalEquations folds every factor's local J^T Σ⁻¹ J / J^T Σ⁻¹ r
// into the dense global information matrix and gradient (spec.md §4.3:
// a sparse, block-ordered Cholesky solve in a production solver; dense with
// natural node ordering here — see DESIGN.md).
func accumulateNormalEquations(total int, contributions []factorContribution) (*mat.Dense, *mat.VecDense, error) {
	info := mat.NewDense(total, total, nil)
	grad := mat.NewVecDense(total, nil)

	for _, c := range contributions {
		winv, err := invertSym(c.Cov)
		if err != nil {
			return nil, nil, err
		}
		r := mat.NewVecDense(len(c.Res), c.Res)

		var wj mat.Dense
		wj.Mul(winv, c.Jac)
		var jtwj mat.Dense
		jtwj.Mul(c.Jac.T(), &wj)

		var wr mat.VecDense
		wr.MulVec(winv, r)
		var jtwr mat.VecDense
		jtwr.MulVec(c.Jac.T(), &wr)

		idx := globalIndices(c.Blocks)
		for i, gi := range idx {
			grad.SetVec(gi, grad.AtVec(gi)+jtwr.AtVec(i))
			for j, gj := range idx {
				info.Set(gi, gj, info.At(gi, gj)+jtwj.At(i, j))
			}
		}
	}
	return info, grad, nil
}

func globalIndices(blocks []VarBlock) []int {
	var idx []int
	for _, b := range blocks {
		for d := 0; d < b.Dim; d++ {
			idx = append(idx, b.Offset+d)
		}
	}
	return idx
}

// retractGlobal applies a global tangent-space delta (as produced by the LM
// solve) to a copy of nodes/calib.
func (g *GraphSolver) retractGlobal(nodes []StateNode, calib Calibration, delta *mat.VecDense) ([]StateNode, Calibration) {
	out := make([]StateNode, len(nodes))
	for k := range nodes {
		off := g.layout.nodeOffset(k)
		d := make([]float64, nodeDim)
		for i := 0; i < nodeDim; i++ {
			d[i] = delta.AtVec(off + i)
		}
		out[k] = retractNodeFull(nodes[k], d)
	}

	outCalib := calib
	if g.freeRIV {
		off := g.layout.RIVOffset
		outCalib.RIV = matMul(calib.RIV, expSkew3(delta, off))
	}
	if g.freeArm {
		off := g.layout.ArmOffset
		outCalib.PositionArm = add3(calib.PositionArm, [3]float64{delta.AtVec(off), delta.AtVec(off + 1), delta.AtVec(off + 2)})
	}
	if g.freeGrav {
		off := g.layout.GravOffset
		outCalib.Gravity = calib.Gravity.Retract([2]float64{delta.AtVec(off), delta.AtVec(off + 1)})
	}
	if g.freeToff {
		outCalib.Toff = calib.Toff + delta.AtVec(g.layout.ToffOffset)
	}
	return out, outCalib
}

func expSkew3(delta *mat.VecDense, off int) *mat.Dense {
	theta := [3]float64{delta.AtVec(off), delta.AtVec(off + 1), delta.AtVec(off + 2)}
	return manifold.Exp(theta)
}

// optimize runs the Levenberg-Marquardt loop until convergence, a fatal
// numerical failure, max iterations, or cooperative cancellation
// (spec.md §4.3 "Optimization").
func (g *GraphSolver) optimize(shouldStop func() bool) (*Result, error) {
	nodes := g.nodes
	calib := g.calib

	contributions, cost, err := g.evaluateGraph(nodes, calib)
	if err != nil {
		return nil, err
	}

	lambda := initialDamping
	consecutiveBad := 0
	iterations := 0
	convergenceFailure := false
	converged := false
	cancelled := false

	for iterations = 0; iterations < g.cfg.MaxIterations; iterations++ {
		if shouldStop != nil && shouldStop() {
			cancelled = true
			break
		}
		if g.onIteration != nil {
			g.onIteration(iterations, cost, lambda)
		}

		info, grad, err := accumulateNormalEquations(g.layout.Total, contributions)
		if err != nil {
			return nil, err
		}

		damped := mat.NewSymDense(g.layout.Total, nil)
		for i := 0; i < g.layout.Total; i++ {
			for j := i; j < g.layout.Total; j++ {
				v := info.At(i, j)
				if i == j {
					v += lambda * info.At(i, i)
				}
				damped.SetSym(i, j, v)
			}
		}

		var chol mat.Cholesky
		ok := chol.Factorize(damped)
		if !ok {
			lambda *= dampingUp
			consecutiveBad++
			if consecutiveBad >= maxConsecutiveDampingEscalations {
				return nil, &NumericalFailure{Iteration: iterations, ConsecutiveBad: consecutiveBad}
			}
			continue
		}

		var negGrad mat.VecDense
		negGrad.ScaleVec(-1, grad)
		var delta mat.VecDense
		if err := chol.SolveVecTo(&delta, &negGrad); err != nil {
			lambda *= dampingUp
			consecutiveBad++
			if consecutiveBad >= maxConsecutiveDampingEscalations {
				return nil, &NumericalFailure{Iteration: iterations, ConsecutiveBad: consecutiveBad}
			}
			continue
		}

		trialNodes, trialCalib := g.retractGlobal(nodes, calib, &delta)
		trialContributions, trialCost, err := g.evaluateGraph(trialNodes, trialCalib)
		if err != nil {
			lambda *= dampingUp
			consecutiveBad++
			if consecutiveBad >= maxConsecutiveDampingEscalations {
				return nil, &NumericalFailure{Iteration: iterations, ConsecutiveBad: consecutiveBad}
			}
			continue
		}

		if trialCost < cost {
			relCost := math.Abs(cost-trialCost) / math.Max(cost, 1e-12)
			relParam := deltaNorm(&delta) / math.Max(paramNorm(nodes, calib, g.layout), 1e-12)

			nodes, calib = trialNodes, trialCalib
			contributions, cost = trialContributions, trialCost
			lambda /= dampingDown
			consecutiveBad = 0

			if relCost < g.cfg.RelativeTol || relParam < paramTol {
				iterations++
				converged = true
				break
			}
		} else {
			lambda *= dampingUp
			consecutiveBad++
			if consecutiveBad >= maxConsecutiveDampingEscalations {
				return nil, &NumericalFailure{Iteration: iterations, ConsecutiveBad: consecutiveBad}
			}
		}
	}

	if !converged && iterations >= g.cfg.MaxIterations {
		convergenceFailure = true
	}

	g.nodes, g.calib = nodes, calib
	marginals := g.marginalCovariance(contributions)

	return &Result{
		Nodes:               nodes,
		RefTimes:            g.refTimes,
		Calibration:         calib,
		Marginals:           marginals,
		FinalCost:           cost,
		Iterations:          iterations,
		Cancelled:           cancelled,
		ConvergenceFailure:  convergenceFailure,
	}, nil
}


// deltaNorm and paramNorm feed the relative-parameter-change stop rule
// (spec.md §4.3 "relative parameter change < 1e-7"); both go through
// gonum/floats.Norm rather than a hand-rolled sum-of-squares loop.
func deltaNorm(v *mat.VecDense) float64 {
	n := v.Len()
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = v.AtVec(i)
	}
	return floats.Norm(data, 2)
}

func paramNorm(nodes []StateNode, calib Calibration, layout *Layout) float64 {
	var data []float64
	for _, n := range nodes {
		data = append(data, n.P[:]...)
		data = append(data, n.V[:]...)
	}
	data = append(data, calib.Toff)
	return floats.Norm(data, 2) + 1.0
}
