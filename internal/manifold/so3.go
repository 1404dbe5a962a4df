// Package manifold implements SO(3)/S² operations used by the propagator,
// interpolator, and solver: exponential/logarithm maps, the right-Jacobian,
// and quaternion conversions, all staying on the rotation manifold instead
// of naively averaging Euler angles or raw quaternion components.
package manifold

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// smallAngleThreshold is the ‖θ‖ below which Exp/Log fall back to their
// Taylor expansions to avoid dividing by a near-zero sine (spec.md §4.1
// "Numeric semantics").
const smallAngleThreshold = 1e-7

// Skew returns the 3x3 skew-symmetric (cross-product) matrix of v.
func Skew(v [3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	})
}

// Exp is the SO(3) exponential map (Rodrigues' formula) with a Taylor
// fallback for small rotations.
func Exp(theta [3]float64) *mat.Dense {
	angle := math.Sqrt(theta[0]*theta[0] + theta[1]*theta[1] + theta[2]*theta[2])
	K := Skew(theta)

	I := mat.NewDense(3, 3, nil)
	I.Set(0, 0, 1)
	I.Set(1, 1, 1)
	I.Set(2, 2, 1)

	if angle < smallAngleThreshold {
		// Exp(θ) ≈ I + K + K²/2 for ‖θ‖ → 0.
		var K2 mat.Dense
		K2.Mul(K, K)
		var out mat.Dense
		out.Add(I, K)
		out.Add(&out, scale(&K2, 0.5))
		return &out
	}

	a := math.Sin(angle) / angle
	b := (1 - math.Cos(angle)) / (angle * angle)

	var K2 mat.Dense
	K2.Mul(K, K)

	var out mat.Dense
	out.Add(I, scale(K, a))
	out.Add(&out, scale(&K2, b))
	return &out
}

// Log is the SO(3) logarithm map, returning the tangent vector θ such that
// Exp(θ) == R (principal branch, |θ| ≤ π).
func Log(R mat.Matrix) [3]float64 {
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	cosAngle := (tr - 1) / 2
	cosAngle = clamp(cosAngle, -1, 1)
	angle := math.Acos(cosAngle)

	vee := [3]float64{
		R.At(2, 1) - R.At(1, 2),
		R.At(0, 2) - R.At(2, 0),
		R.At(1, 0) - R.At(0, 1),
	}

	if angle < smallAngleThreshold {
		// Log(R) ≈ ½·vee(R − Rᵀ) for small angles.
		return [3]float64{vee[0] / 2, vee[1] / 2, vee[2] / 2}
	}

	scale := angle / (2 * math.Sin(angle))
	return [3]float64{vee[0] * scale, vee[1] * scale, vee[2] * scale}
}

// RightJacobian returns the right-Jacobian Jr(θ) of the exponential map,
// used to linearize Log perturbations (spec.md GLOSSARY "Right-Jacobian").
func RightJacobian(theta [3]float64) *mat.Dense {
	angle := math.Sqrt(theta[0]*theta[0] + theta[1]*theta[1] + theta[2]*theta[2])
	K := Skew(theta)

	I := mat.NewDense(3, 3, nil)
	I.Set(0, 0, 1)
	I.Set(1, 1, 1)
	I.Set(2, 2, 1)

	if angle < smallAngleThreshold {
		var K2 mat.Dense
		K2.Mul(K, K)
		var out mat.Dense
		out.Sub(I, scale(K, 0.5))
		out.Add(&out, scale(&K2, 1.0/6.0))
		return &out
	}

	a := (1 - math.Cos(angle)) / (angle * angle)
	b := (angle - math.Sin(angle)) / (angle * angle * angle)

	var K2 mat.Dense
	K2.Mul(K, K)

	var out mat.Dense
	out.Sub(I, scale(K, a))
	out.Add(&out, scale(&K2, b))
	return &out
}

// RightJacobianInv returns the inverse of RightJacobian, used when mapping
// a covariance expressed in one tangent chart into another.
func RightJacobianInv(theta [3]float64) *mat.Dense {
	angle := math.Sqrt(theta[0]*theta[0] + theta[1]*theta[1] + theta[2]*theta[2])
	K := Skew(theta)

	I := mat.NewDense(3, 3, nil)
	I.Set(0, 0, 1)
	I.Set(1, 1, 1)
	I.Set(2, 2, 1)

	if angle < smallAngleThreshold {
		var out mat.Dense
		out.Add(I, scale(K, 0.5))
		return &out
	}

	a := 0.5
	b := 1.0/(angle*angle) - (1+math.Cos(angle))/(2*angle*math.Sin(angle))

	var K2 mat.Dense
	K2.Mul(K, K)

	var out mat.Dense
	out.Add(I, scale(K, a))
	out.Add(&out, scale(&K2, b))
	return &out
}

// QuatToRot converts a unit quaternion [x, y, z, w] to a rotation matrix.
func QuatToRot(q [4]float64) *mat.Dense {
	x, y, z, w := q[0], q[1], q[2], q[3]
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// RotToQuat converts a rotation matrix to a unit quaternion [x, y, z, w]
// using Shepperd's method for numerical stability across all rotations.
func RotToQuat(R mat.Matrix) [4]float64 {
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)

	var q [4]float64
	if tr > 0 {
		s := math.Sqrt(tr+1.0) * 2
		q[3] = 0.25 * s
		q[0] = (R.At(2, 1) - R.At(1, 2)) / s
		q[1] = (R.At(0, 2) - R.At(2, 0)) / s
		q[2] = (R.At(1, 0) - R.At(0, 1)) / s
	} else if R.At(0, 0) > R.At(1, 1) && R.At(0, 0) > R.At(2, 2) {
		s := math.Sqrt(1.0+R.At(0, 0)-R.At(1, 1)-R.At(2, 2)) * 2
		q[3] = (R.At(2, 1) - R.At(1, 2)) / s
		q[0] = 0.25 * s
		q[1] = (R.At(0, 1) + R.At(1, 0)) / s
		q[2] = (R.At(0, 2) + R.At(2, 0)) / s
	} else if R.At(1, 1) > R.At(2, 2) {
		s := math.Sqrt(1.0+R.At(1, 1)-R.At(0, 0)-R.At(2, 2)) * 2
		q[3] = (R.At(0, 2) - R.At(2, 0)) / s
		q[0] = (R.At(0, 1) + R.At(1, 0)) / s
		q[1] = 0.25 * s
		q[2] = (R.At(1, 2) + R.At(2, 1)) / s
	} else {
		s := math.Sqrt(1.0+R.At(2, 2)-R.At(0, 0)-R.At(1, 1)) * 2
		q[3] = (R.At(1, 0) - R.At(0, 1)) / s
		q[0] = (R.At(0, 2) + R.At(2, 0)) / s
		q[1] = (R.At(1, 2) + R.At(2, 1)) / s
		q[2] = 0.25 * s
	}
	return NormalizeQuat(q)
}

// NormalizeQuat renormalizes a quaternion to unit length (spec.md §4.1
// "Quaternion outputs normalized on every write").
func NormalizeQuat(q [4]float64) [4]float64 {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return [4]float64{0, 0, 0, 1}
	}
	return [4]float64{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// NearQuat flips the sign of b if that makes it closer to a, picking the
// short way around the double cover so SLERP never takes the long path
// (spec.md §4.2 "pick the near quaternion").
func NearQuat(a, b [4]float64) [4]float64 {
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2] + a[3]*b[3]
	if dot < 0 {
		return [4]float64{-b[0], -b[1], -b[2], -b[3]}
	}
	return b
}

// Identity3 returns a 3x3 identity matrix.
func Identity3() *mat.Dense {
	I := mat.NewDense(3, 3, nil)
	I.Set(0, 0, 1)
	I.Set(1, 1, 1)
	I.Set(2, 2, 1)
	return I
}

func scale(m mat.Matrix, s float64) *mat.Dense {
	var out mat.Dense
	out.Scale(s, m)
	return &out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
