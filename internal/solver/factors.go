package solver

import (
	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/manifold"
	"github.com/relabs-tech/vicalib/internal/vicon"
	"gonum.org/v1/gonum/mat"
)

// factorJacobianEps is the central-difference step used for the IMU and
// Vicon factor Jacobians, except the tₒff column of the Vicon factor, which
// the interpolator's exposed spline derivative lets us form in closed form
// (spec.md §4.2 "Time offset"). The bias random-walk factor's Jacobian is
// constant and written out directly. DESIGN.md records this as a deliberate
// simplification: a production solver would hand-derive every analytic
// partial, but central differences over each factor's small local tangent
// are exact enough for a batch, non-real-time estimator and far less
// error-prone to get right than a page of hand algebra per factor.
const factorJacobianEps = 1e-6

// factorContribution is one factor's linearization: which global columns it
// touches (in the same order as jac's columns), its whitened residual
// dimension's covariance, and the local Jacobian.
type factorContribution struct {
	Blocks []VarBlock
	Res    []float64
	Cov    *mat.SymDense
	Jac    *mat.Dense
}

func concat3(a [3]float64, out []float64, at int) {
	out[at], out[at+1], out[at+2] = a[0], a[1], a[2]
}

// --- IMU preintegration factor (spec.md §4.1 / §4.3) ---

func imuResidualValue(nodeK, nodeK1 StateNode, calib Calibration, pm *imu.PreintMeas, relin imu.RelinThreshold) [9]float64 {
	Rc, v, dp, _ := imu.CorrectMeasurement(pm, nodeK.Bg, nodeK.Ba, relin)

	gWorld := matVec(transpose(calib.RIV), calib.Gravity.Vector())
	dt := pm.Dt
	RkT := transpose(nodeK.R)

	predDR := matMul(RkT, nodeK1.R)
	rotErr := manifold.Log(matMul(transpose(Rc), predDR))

	predDV := matVec(RkT, sub3(sub3(nodeK1.V, nodeK.V), scale3(gWorld, dt)))
	velErr := sub3(v, predDV)

	predDP := matVec(RkT, sub3(sub3(sub3(nodeK1.P, nodeK.P), scale3(nodeK.V, dt)), scale3(gWorld, 0.5*dt*dt)))
	posErr := sub3(dp, predDP)

	var out [9]float64
	concat3(rotErr, out[:], 0)
	concat3(velErr, out[:], 3)
	concat3(posErr, out[:], 6)
	return out
}

func retractNodeFull(n StateNode, d []float64) StateNode {
	return StateNode{
		R:  matMul(n.R, manifold.Exp([3]float64{d[0], d[1], d[2]})),
		P:  add3(n.P, [3]float64{d[3], d[4], d[5]}),
		V:  add3(n.V, [3]float64{d[6], d[7], d[8]}),
		Bg: add3(n.Bg, [3]float64{d[9], d[10], d[11]}),
		Ba: add3(n.Ba, [3]float64{d[12], d[13], d[14]}),
	}
}

func retractNodeRPV(n StateNode, d []float64) StateNode {
	return StateNode{
		R:  matMul(n.R, manifold.Exp([3]float64{d[0], d[1], d[2]})),
		P:  add3(n.P, [3]float64{d[3], d[4], d[5]}),
		V:  add3(n.V, [3]float64{d[6], d[7], d[8]}),
		Bg: n.Bg,
		Ba: n.Ba,
	}
}

func retractCalibRIVGrav(c Calibration, d []float64, freeRIV, freeGrav bool) Calibration {
	out := c
	idx := 0
	if freeRIV {
		out.RIV = matMul(c.RIV, manifold.Exp([3]float64{d[idx], d[idx+1], d[idx+2]}))
		idx += 3
	}
	if freeGrav {
		out.Gravity = c.Gravity.Retract([2]float64{d[idx], d[idx+1]})
	}
	return out
}

// imuFactor linearizes the preintegration factor binding nodes k, k+1 via
// central differences over its local tangent (nodeK full 15, nodeK1's
// rotation/position/velocity 9, plus RIV/gravity if estimated). When tₒff
// is free, its column is formed by re-preintegrating the [t1,t2] window
// shifted by ±ε and central-differencing the resulting residual, since the
// measurement itself (not just the prediction) depends on tₒff — unlike
// the Vicon factor, there is no already-exposed instantaneous derivative to
// reuse here (spec.md §4.3).
func imuFactor(layout *Layout, k int, nodeK, nodeK1 StateNode, calib Calibration, pm *imu.PreintMeas, prop *imu.Propagator, t1, t2 float64, relin imu.RelinThreshold, freeRIV, freeGrav, freeToff bool) factorContribution {
	blocks := []VarBlock{
		layout.nodeRot(k), layout.nodePos(k), layout.nodeVel(k), layout.nodeBg(k), layout.nodeBa(k),
		layout.nodeRot(k + 1), layout.nodePos(k + 1), layout.nodeVel(k + 1),
	}
	if freeRIV {
		blocks = append(blocks, layout.rivBlock())
	}
	if freeGrav {
		blocks = append(blocks, layout.gravBlock())
	}
	localDim := 0
	for _, b := range blocks {
		localDim += b.Dim
	}

	res := imuResidualValue(nodeK, nodeK1, calib, pm, relin)
	covBlock := extractBlock(pm.Cov, 0, 0, 9, 9)
	cov := symFromDense(covBlock)

	eval := func(d []float64) [9]float64 {
		nk := retractNodeFull(nodeK, d[0:15])
		nk1 := retractNodeRPV(nodeK1, d[15:24])
		c := calib
		if freeRIV || freeGrav {
			c = retractCalibRIVGrav(calib, d[24:localDim], freeRIV, freeGrav)
		}
		return imuResidualValue(nk, nk1, c, pm, relin)
	}

	jac := centralDifference9(localDim, eval)

	if freeToff {
		blocks = append(blocks, layout.toffBlock())
		jac = appendColumnN(jac, imuToffColumn(prop, nodeK, nodeK1, calib, t1, t2, relin))
	}

	return factorContribution{Blocks: blocks, Res: res[:], Cov: cov, Jac: jac}
}

// imuToffColumn central-differences the IMU residual with respect to tₒff
// by re-preintegrating the edge window at t1±ε, t2±ε. Falls back to a zero
// column if either perturbed window can't be preintegrated (edge of the
// IMU buffer), leaving tₒff observable through the Vicon factor alone for
// that edge.
func imuToffColumn(prop *imu.Propagator, nodeK, nodeK1 StateNode, calib Calibration, t1, t2 float64, relin imu.RelinThreshold) [9]float64 {
	var zero [9]float64
	pmP, errP := prop.Preintegrate(t1+factorJacobianEps, t2+factorJacobianEps, nodeK.Bg, nodeK.Ba)
	pmM, errM := prop.Preintegrate(t1-factorJacobianEps, t2-factorJacobianEps, nodeK.Bg, nodeK.Ba)
	if errP != nil || errM != nil {
		return zero
	}
	rp := imuResidualValue(nodeK, nodeK1, calib, pmP, relin)
	rm := imuResidualValue(nodeK, nodeK1, calib, pmM, relin)
	var col [9]float64
	for i := 0; i < 9; i++ {
		col[i] = (rp[i] - rm[i]) / (2 * factorJacobianEps)
	}
	return col
}

func appendColumnN(jac *mat.Dense, col [9]float64) *mat.Dense {
	rows, cols := jac.Dims()
	out := mat.NewDense(rows, cols+1, nil)
	out.Copy(jac)
	for i := 0; i < rows; i++ {
		out.Set(i, cols, col[i])
	}
	return out
}

func centralDifference9(localDim int, eval func(d []float64) [9]float64) *mat.Dense {
	jac := mat.NewDense(9, localDim, nil)
	d := make([]float64, localDim)
	for j := 0; j < localDim; j++ {
		d[j] = factorJacobianEps
		rp := eval(d)
		d[j] = -factorJacobianEps
		rm := eval(d)
		d[j] = 0
		for i := 0; i < 9; i++ {
			jac.Set(i, j, (rp[i]-rm[i])/(2*factorJacobianEps))
		}
	}
	return jac
}

// --- Bias random-walk factor (spec.md §3 "bias nodes follow a random walk
// between consecutive reference timestamps") ---

func biasWalkFactor(layout *Layout, k int, nodeK, nodeK1 StateNode, dt, gyroRW, accelRW float64) factorContribution {
	blocks := []VarBlock{layout.nodeBg(k), layout.nodeBa(k), layout.nodeBg(k + 1), layout.nodeBa(k + 1)}
	res := make([]float64, 6)
	concat3(sub3(nodeK1.Bg, nodeK.Bg), res, 0)
	concat3(sub3(nodeK1.Ba, nodeK.Ba), res, 3)

	cov := mat.NewSymDense(6, nil)
	gv := gyroRW * gyroRW * dt
	av := accelRW * accelRW * dt
	for i := 0; i < 3; i++ {
		cov.SetSym(i, i, gv)
		cov.SetSym(3+i, 3+i, av)
	}

	jac := mat.NewDense(6, 12, nil)
	for i := 0; i < 3; i++ {
		jac.Set(i, i, -1)
		jac.Set(i, 6+i, 1)
		jac.Set(3+i, 3+i, -1)
		jac.Set(3+i, 9+i, 1)
	}
	return factorContribution{Blocks: blocks, Res: res, Cov: cov, Jac: jac}
}

// --- Interpolated Vicon pose factor (spec.md §4.2 / §4.3) ---

func viconResidualValue(node StateNode, calib Calibration, obs *vicon.Interpolated) [6]float64 {
	RkRiv := matMul(node.R, calib.RIV)
	rotErr := manifold.Log(matMul(transpose(obs.R), RkRiv))
	predP := add3(node.P, matVec(node.R, calib.PositionArm))
	posErr := sub3(predP, obs.P)
	var out [6]float64
	concat3(rotErr, out[:], 0)
	concat3(posErr, out[:], 3)
	return out
}

// viconFactor linearizes the Vicon factor at node k. Node rotation/position,
// Rᴵⱽ, and the lever arm are differentiated by central differences; the
// tₒff column (when estimated) is formed analytically from the
// interpolator's angular/linear velocity, matching spec.md §4.2's explicit
// instruction to do so.
func viconFactor(layout *Layout, k int, node StateNode, calib Calibration, obs *vicon.Interpolated, freeRIV, freeArm, freeToff bool) factorContribution {
	blocks := []VarBlock{layout.nodeRot(k), layout.nodePos(k)}
	if freeRIV {
		blocks = append(blocks, layout.rivBlock())
	}
	if freeArm {
		blocks = append(blocks, layout.armBlock())
	}

	res := viconResidualValue(node, calib, obs)
	cov := obs.Cov6
	if cov == nil {
		cov = mat.NewSymDense(6, nil)
	}

	localDim := 6
	if freeRIV {
		localDim += 3
	}
	if freeArm {
		localDim += 3
	}

	eval := func(d []float64) [6]float64 {
		nd := StateNode{
			R:  matMul(node.R, manifold.Exp([3]float64{d[0], d[1], d[2]})),
			P:  add3(node.P, [3]float64{d[3], d[4], d[5]}),
			V:  node.V, Bg: node.Bg, Ba: node.Ba,
		}
		c := calib
		idx := 6
		if freeRIV {
			c.RIV = matMul(calib.RIV, manifold.Exp([3]float64{d[idx], d[idx + 1], d[idx + 2]}))
			idx += 3
		}
		if freeArm {
			c.PositionArm = add3(calib.PositionArm, [3]float64{d[idx], d[idx + 1], d[idx + 2]})
		}
		return viconResidualValue(nd, c, obs)
	}

	jac := mat.NewDense(6, localDim, nil)
	d := make([]float64, localDim)
	for j := 0; j < localDim; j++ {
		d[j] = factorJacobianEps
		rp := eval(d)
		d[j] = -factorJacobianEps
		rm := eval(d)
		d[j] = 0
		for i := 0; i < 6; i++ {
			jac.Set(i, j, (rp[i]-rm[i])/(2*factorJacobianEps))
		}
	}

	if freeToff {
		rotErr := [3]float64{res[0], res[1], res[2]}
		jrInv := manifold.RightJacobianInv(neg3(rotErr))
		dRot := neg3(matVec(jrInv, obs.AngVel))
		dPos := neg3(obs.LinVel)
		jac = appendColumn(jac, dRot, dPos)
		blocks = append(blocks, layout.toffBlock())
	}

	return factorContribution{Blocks: blocks, Res: res[:], Cov: cov, Jac: jac}
}

func appendColumn(jac *mat.Dense, rotCol, posCol [3]float64) *mat.Dense {
	rows, cols := jac.Dims()
	out := mat.NewDense(rows, cols+1, nil)
	out.Copy(jac)
	for i := 0; i < 3; i++ {
		out.Set(i, cols, rotCol[i])
		out.Set(3+i, cols, posCol[i])
	}
	return out
}
