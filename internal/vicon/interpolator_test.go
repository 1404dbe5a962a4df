package vicon

import (
	"math"
	"testing"

	"github.com/relabs-tech/vicalib/internal/manifold"
	"gonum.org/v1/gonum/mat"
)

func identityCov3() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		1e-4, 0, 0,
		0, 1e-4, 0,
		0, 0, 1e-4,
	})
}

func quatFromAxisAngle(axis [3]float64, angle float64) [4]float64 {
	n := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	s := math.Sin(angle / 2)
	return manifold.NormalizeQuat([4]float64{
		axis[0] / n * s, axis[1] / n * s, axis[2] / n * s, math.Cos(angle / 2),
	})
}

func TestFeedMonotoneBuffer(t *testing.T) {
	ip := NewInterpolator()
	for _, tt := range []float64{0, 0.1, 0.2} {
		if err := ip.Feed(tt, [4]float64{0, 0, 0, 1}, [3]float64{}, identityCov3(), identityCov3()); err != nil {
			t.Fatalf("Feed(%v) failed: %v", tt, err)
		}
	}
	if ip.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", ip.Len())
	}
	if err := ip.Feed(0.05, [4]float64{0, 0, 0, 1}, [3]float64{}, identityCov3(), identityCov3()); err != ErrNonMonotonic {
		t.Fatalf("err = %v, want ErrNonMonotonic", err)
	}
}

func TestInterpolateOutOfRange(t *testing.T) {
	ip := NewInterpolator()
	ip.Feed(0, [4]float64{0, 0, 0, 1}, [3]float64{}, identityCov3(), identityCov3())
	ip.Feed(1, [4]float64{0, 0, 0, 1}, [3]float64{}, identityCov3(), identityCov3())

	if _, err := ip.Interpolate(1.5); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if _, err := ip.Interpolate(-0.1); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestInterpolateEndpointIdentity(t *testing.T) {
	ip := NewInterpolator()
	qa := quatFromAxisAngle([3]float64{0, 0, 1}, 0.1)
	qb := quatFromAxisAngle([3]float64{0, 0, 1}, 0.5)
	ip.Feed(0, qa, [3]float64{1, 2, 3}, identityCov3(), identityCov3())
	ip.Feed(1, qb, [3]float64{4, 5, 6}, identityCov3(), identityCov3())

	atA, err := ip.Interpolate(0)
	if err != nil {
		t.Fatalf("Interpolate(0) failed: %v", err)
	}
	Ra := manifold.QuatToRot(qa)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(atA.R.At(i, j)-Ra.At(i, j)) > 1e-9 {
				t.Errorf("R[%d][%d] = %v, want %v", i, j, atA.R.At(i, j), Ra.At(i, j))
			}
		}
		if math.Abs(atA.P[i]-1-float64(i)) > 1e-9 {
			t.Errorf("P[%d] = %v", i, atA.P[i])
		}
	}

	atB, err := ip.Interpolate(1)
	if err != nil {
		t.Fatalf("Interpolate(1) failed: %v", err)
	}
	Rb := manifold.QuatToRot(qb)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(atB.R.At(i, j)-Rb.At(i, j)) > 1e-9 {
				t.Errorf("R[%d][%d] = %v, want %v", i, j, atB.R.At(i, j), Rb.At(i, j))
			}
		}
	}
}

func TestInterpolateMidpoint(t *testing.T) {
	ip := NewInterpolator()
	theta := 0.6
	qa := [4]float64{0, 0, 0, 1}
	qb := quatFromAxisAngle([3]float64{0, 0, 1}, theta)
	ip.Feed(0, qa, [3]float64{}, identityCov3(), identityCov3())
	ip.Feed(1, qb, [3]float64{}, identityCov3(), identityCov3())

	mid, err := ip.Interpolate(0.5)
	if err != nil {
		t.Fatalf("Interpolate(0.5) failed: %v", err)
	}

	want := manifold.Exp([3]float64{0, 0, theta / 2})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(mid.R.At(i, j)-want.At(i, j)) > 1e-9 {
				t.Errorf("R[%d][%d] = %v, want %v", i, j, mid.R.At(i, j), want.At(i, j))
			}
		}
	}
}

func TestSlerpShortestArc(t *testing.T) {
	ip1 := NewInterpolator()
	ip2 := NewInterpolator()

	qa := quatFromAxisAngle([3]float64{0, 1, 0}, 0.2)
	qb := quatFromAxisAngle([3]float64{0, 1, 0}, 0.9)
	qbFlipped := [4]float64{-qb[0], -qb[1], -qb[2], -qb[3]}

	ip1.Feed(0, qa, [3]float64{}, identityCov3(), identityCov3())
	ip1.Feed(1, qb, [3]float64{}, identityCov3(), identityCov3())

	ip2.Feed(0, qa, [3]float64{}, identityCov3(), identityCov3())
	ip2.Feed(1, qbFlipped, [3]float64{}, identityCov3(), identityCov3())

	r1, err := ip1.Interpolate(0.3)
	if err != nil {
		t.Fatalf("Interpolate failed: %v", err)
	}
	r2, err := ip2.Interpolate(0.3)
	if err != nil {
		t.Fatalf("Interpolate failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(r1.R.At(i, j)-r2.R.At(i, j)) > 1e-9 {
				t.Errorf("R[%d][%d] = %v vs %v", i, j, r1.R.At(i, j), r2.R.At(i, j))
			}
		}
	}
}
