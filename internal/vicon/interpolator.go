package vicon

import (
	"math"
	"sort"

	"github.com/relabs-tech/vicalib/internal/manifold"
	"gonum.org/v1/gonum/mat"
)

// Interpolator owns an ordered buffer of Vicon pose samples and returns
// temporally interpolated SE(3) poses with propagated covariance
// (spec.md §4.2).
type Interpolator struct {
	samples []Sample
}

// NewInterpolator creates an empty pose interpolator.
func NewInterpolator() *Interpolator { return &Interpolator{} }

// Feed appends a pose sample. A quaternion within unitTolerance of unit
// norm is silently renormalized; otherwise the sample is rejected
// (spec.md §4.2).
func (ip *Interpolator) Feed(t float64, q [4]float64, p [3]float64, covR, covP *mat.SymDense) error {
	if len(ip.samples) > 0 && t <= ip.samples[len(ip.samples)-1].T {
		return ErrNonMonotonic
	}

	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if math.Abs(n-1) > unitTolerance {
		return ErrNonUnitQuaternion
	}
	q = manifold.NormalizeQuat(q)

	ip.samples = append(ip.samples, Sample{T: t, Q: q, P: p, CovR: covR, CovP: covP})
	return nil
}

// Len reports the number of ingested samples.
func (ip *Interpolator) Len() int { return len(ip.samples) }

// Extent reports [tMin, tMax] of the buffer, or ok=false if empty.
func (ip *Interpolator) Extent() (tMin, tMax float64, ok bool) {
	if len(ip.samples) == 0 {
		return 0, 0, false
	}
	return ip.samples[0].T, ip.samples[len(ip.samples)-1].T, true
}

// Interpolate returns the SLERP-interpolated pose and covariance at t
// (spec.md §4.2 "Algorithm"). Fails with ErrOutOfRange if t is strictly
// outside the buffer's extent, or ErrEmptyBuffer if nothing was fed.
func (ip *Interpolator) Interpolate(t float64) (*Interpolated, error) {
	n := len(ip.samples)
	if n == 0 {
		return nil, ErrEmptyBuffer
	}
	if t < ip.samples[0].T || t > ip.samples[n-1].T {
		return nil, ErrOutOfRange
	}

	// Binary search for the bracketing pair.
	idx := sort.Search(n, func(i int) bool { return ip.samples[i].T >= t })
	var a, b Sample
	switch {
	case ip.samples[idx].T == t:
		a, b = ip.samples[idx], ip.samples[idx]
	case idx == 0:
		a, b = ip.samples[0], ip.samples[0]
	default:
		a, b = ip.samples[idx-1], ip.samples[idx]
	}

	if a.T == b.T {
		out := &Interpolated{
			R: manifold.QuatToRot(a.Q), P: a.P,
			CovR: a.CovR, CovP: a.CovP,
			Cov6: assembleCov6(a.CovR, a.CovP),
		}
		// At a sample time the derivative is that of the segment starting
		// there, or of the last segment at the end of the buffer.
		if n > 1 {
			lo := min(idx, n-2)
			s0, s1 := ip.samples[lo], ip.samples[lo+1]
			dt := s1.T - s0.T
			var rel mat.Dense
			rel.Mul(manifold.QuatToRot(s0.Q).T(), manifold.QuatToRot(manifold.NearQuat(s0.Q, s1.Q)))
			w := manifold.Log(&rel)
			out.AngVel = [3]float64{w[0] / dt, w[1] / dt, w[2] / dt}
			out.LinVel = [3]float64{(s1.P[0] - s0.P[0]) / dt, (s1.P[1] - s0.P[1]) / dt, (s1.P[2] - s0.P[2]) / dt}
		}
		return out, nil
	}

	lambda := (t - a.T) / (b.T - a.T)

	qa := a.Q
	qb := manifold.NearQuat(a.Q, b.Q)

	Ra := manifold.QuatToRot(qa)
	Rb := manifold.QuatToRot(qb)

	var RaT mat.Dense
	RaT.CloneFrom(Ra.T())
	var relative mat.Dense
	relative.Mul(&RaT, Rb)
	logRel := manifold.Log(&relative)

	scaledTheta := [3]float64{logRel[0] * lambda, logRel[1] * lambda, logRel[2] * lambda}
	R := matMul(Ra, manifold.Exp(scaledTheta))

	p := [3]float64{
		(1-lambda)*a.P[0] + lambda*b.P[0],
		(1-lambda)*a.P[1] + lambda*b.P[1],
		(1-lambda)*a.P[2] + lambda*b.P[2],
	}

	dtSeg := b.T - a.T
	angVel := [3]float64{logRel[0] / dtSeg, logRel[1] / dtSeg, logRel[2] / dtSeg}
	linVel := [3]float64{
		(b.P[0] - a.P[0]) / dtSeg,
		(b.P[1] - a.P[1]) / dtSeg,
		(b.P[2] - a.P[2]) / dtSeg,
	}

	covR, covP, cov6 := propagateCovariance(a, b, lambda, logRel)

	return &Interpolated{
		R: R, P: p,
		CovR: covR, CovP: covP, Cov6: cov6,
		AngVel: angVel, LinVel: linVel,
	}, nil
}

// propagateCovariance implements spec.md §4.2's covariance rule:
// "Rotation covariance uses the right-Jacobian of Log at the
// interpolation tangent; position covariance is the convex blend plus a
// bilinear coupling."
func propagateCovariance(a, b Sample, lambda float64, logRel [3]float64) (covR, covP, cov6 *mat.SymDense) {
	theta := [3]float64{logRel[0] * lambda, logRel[1] * lambda, logRel[2] * lambda}
	Jr := manifold.RightJacobian(theta)

	// Blend the endpoint rotation covariances by (1-λ)² / λ², mapped
	// through the right-Jacobian of the interpolation tangent.
	var jrT mat.Dense
	jrT.CloneFrom(Jr.T())

	blendedR := mat.NewSymDense(3, nil)
	if a.CovR != nil && b.CovR != nil {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				v := (1-lambda)*(1-lambda)*a.CovR.At(i, j) + lambda*lambda*b.CovR.At(i, j)
				blendedR.SetSym(i, j, v)
			}
		}
	}
	var tmp mat.Dense
	tmp.Mul(Jr, blendedR)
	var propagated mat.Dense
	propagated.Mul(&tmp, &jrT)
	covR = symmetrize(&propagated)

	covP = mat.NewSymDense(3, nil)
	if a.CovP != nil && b.CovP != nil {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				convex := (1-lambda)*(1-lambda)*a.CovP.At(i, j) + lambda*lambda*b.CovP.At(i, j)
				// Bilinear coupling term from the shared uncertainty of
				// the two endpoints being correlated through the
				// straight-line blend.
				coupling := 2 * lambda * (1 - lambda) * math.Sqrt(math.Abs(a.CovP.At(i, j)*b.CovP.At(i, j)))
				covP.SetSym(i, j, convex+coupling)
			}
		}
	}

	cov6 = assembleCov6(covR, covP)
	return covR, covP, cov6
}

// assembleCov6 places the already-propagated rotation block (mapped
// through the right-Jacobian of the interpolation tangent) and position
// block (convex blend plus bilinear coupling) into the block-diagonal
// 6x6 covariance that viconFactor consumes.
func assembleCov6(covR, covP *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(6, nil)
	if covR == nil || covP == nil {
		return out
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.SetSym(i, j, covR.At(i, j))
			out.SetSym(3+i, 3+j, covP.At(i, j))
		}
	}
	return out
}

func symmetrize(m mat.Matrix) *mat.SymDense {
	rows, _ := m.Dims()
	data := make([]float64, rows*rows)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			data[i*rows+j] = v
			data[j*rows+i] = v
		}
	}
	return mat.NewSymDense(rows, data)
}

func matMul(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}
