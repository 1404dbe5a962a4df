package imu

import (
	"math"
	"testing"
)

func TestFeedMonotoneBuffer(t *testing.T) {
	p := NewPropagator(DefaultNoiseDensities(), DefaultRelinThreshold())

	ts := []float64{0.0, 0.01, 0.02, 0.03}
	for _, ts := range ts {
		if err := p.Feed(ts, [3]float64{}, [3]float64{}); err != nil {
			t.Fatalf("Feed(%v) failed: %v", ts, err)
		}
	}
	if p.Len() != len(ts) {
		t.Fatalf("Len() = %d, want %d", p.Len(), len(ts))
	}

	if err := p.Feed(0.015, [3]float64{}, [3]float64{}); err != ErrNonMonotonic {
		t.Fatalf("Feed(non-monotone) err = %v, want ErrNonMonotonic", err)
	}
	if p.Len() != len(ts) {
		t.Fatalf("Len() after rejected feed = %d, want %d", p.Len(), len(ts))
	}
}

func TestPreintegrateInsufficientData(t *testing.T) {
	p := NewPropagator(DefaultNoiseDensities(), DefaultRelinThreshold())
	p.Feed(0, [3]float64{}, [3]float64{})

	if _, err := p.Preintegrate(0, 1, [3]float64{}, [3]float64{}); err != ErrInsufficientData {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestPreintegrateZeroMotion(t *testing.T) {
	p := NewPropagator(DefaultNoiseDensities(), DefaultRelinThreshold())
	bg := [3]float64{0.01, -0.02, 0.005}
	ba := [3]float64{0.1, 0.2, -9.81}

	dt := 0.005
	for i := 0; i <= 200; i++ {
		p.Feed(float64(i)*dt, bg, ba)
	}

	m, err := p.Preintegrate(0, 1.0, bg, ba)
	if err != nil {
		t.Fatalf("Preintegrate failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(m.DeltaR.At(i, j)-want) > 1e-9 {
				t.Errorf("DeltaR[%d][%d] = %v, want %v", i, j, m.DeltaR.At(i, j), want)
			}
		}
		if math.Abs(m.DeltaV[i]) > 1e-9 {
			t.Errorf("DeltaV[%d] = %v, want 0", i, m.DeltaV[i])
		}
		if math.Abs(m.DeltaP[i]) > 1e-9 {
			t.Errorf("DeltaP[%d] = %v, want 0", i, m.DeltaP[i])
		}
	}

	for i := 0; i < 15; i++ {
		if m.Cov.At(i, i) < 0 {
			t.Errorf("Cov[%d][%d] = %v, want >= 0", i, i, m.Cov.At(i, i))
		}
	}
}

func TestPreintegrationComposition(t *testing.T) {
	p := NewPropagator(DefaultNoiseDensities(), DefaultRelinThreshold())
	bg := [3]float64{}
	ba := [3]float64{}

	dt := 0.005
	omega := [3]float64{0, 0, 0.3}
	accel := [3]float64{0.5, 0, 9.81}
	for i := 0; i <= 400; i++ {
		p.Feed(float64(i)*dt, omega, accel)
	}

	direct, err := p.Preintegrate(0, 1.0, bg, ba)
	if err != nil {
		t.Fatalf("direct Preintegrate failed: %v", err)
	}

	first, err := p.Preintegrate(0, 0.4, bg, ba)
	if err != nil {
		t.Fatalf("first half failed: %v", err)
	}
	second, err := p.Preintegrate(0.4, 1.0, bg, ba)
	if err != nil {
		t.Fatalf("second half failed: %v", err)
	}

	composedR := matMul(first.DeltaR, second.DeltaR)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(composedR.At(i, j)-direct.DeltaR.At(i, j)) > 1e-6 {
				t.Errorf("composed DeltaR[%d][%d] = %v, direct = %v", i, j, composedR.At(i, j), direct.DeltaR.At(i, j))
			}
		}
	}
}

func TestCorrectedTriggersRelinearization(t *testing.T) {
	p := NewPropagator(DefaultNoiseDensities(), DefaultRelinThreshold())
	dt := 0.005
	for i := 0; i <= 20; i++ {
		p.Feed(float64(i)*dt, [3]float64{0, 0, 0.1}, [3]float64{0, 0, 9.81})
	}
	m, err := p.Preintegrate(0, 0.1, [3]float64{}, [3]float64{})
	if err != nil {
		t.Fatalf("Preintegrate failed: %v", err)
	}

	_, _, _, relin := p.Corrected(m, [3]float64{0.05, 0, 0}, [3]float64{})
	if !relin {
		t.Fatal("expected re-linearization to trigger for large bias drift")
	}
	if p.RelinearizationCount() != 1 {
		t.Fatalf("RelinearizationCount() = %d, want 1", p.RelinearizationCount())
	}

	_, _, _, relinSmall := p.Corrected(m, [3]float64{0.001, 0, 0}, [3]float64{})
	if relinSmall {
		t.Fatal("did not expect re-linearization for small bias drift")
	}
}
