package imu

import (
	"math"
	"sort"
)

// Propagator owns an ordered buffer of IMU samples and produces
// preintegrated relative-motion measurements between two timestamps
// (spec.md §4.1).
type Propagator struct {
	samples   []Sample
	noise     NoiseDensities
	relin     RelinThreshold
	relinHits uint64
}

// NewPropagator creates an empty propagator with the given noise model and
// re-linearization threshold.
func NewPropagator(noise NoiseDensities, relin RelinThreshold) *Propagator {
	return &Propagator{noise: noise, relin: relin}
}

// Feed appends a sample, rejecting it if its timestamp does not strictly
// follow the previous one (spec.md §3 buffer invariant: "duplicates at
// identical t collapse to the earlier insertion").
func (p *Propagator) Feed(t float64, omega, accel [3]float64) error {
	if len(p.samples) > 0 && t <= p.samples[len(p.samples)-1].T {
		return ErrNonMonotonic
	}
	p.samples = append(p.samples, Sample{T: t, Omega: omega, Accel: accel})
	return nil
}

// Len reports the number of ingested samples.
func (p *Propagator) Len() int { return len(p.samples) }

// Extent reports [tMin, tMax] of the buffer, or ok=false if empty.
func (p *Propagator) Extent() (tMin, tMax float64, ok bool) {
	if len(p.samples) == 0 {
		return 0, 0, false
	}
	return p.samples[0].T, p.samples[len(p.samples)-1].T, true
}

// RelinearizationCount reports how many times a stored PreintMeas would
// need re-linearization against a later bias estimate (spec.md §9
// "bias re-linearization counter").
func (p *Propagator) RelinearizationCount() uint64 { return p.relinHits }

// AngularExcitation returns ∫‖ω‖dt over [t1, t2] by trapezoidal
// integration of the raw gyro samples, used by the solver's observability
// guard (spec.md §4.3 "negligible rotation excitation").
func (p *Propagator) AngularExcitation(t1, t2 float64) float64 {
	samples, ok := p.interval(t1, t2)
	if !ok {
		return 0
	}
	total := 0.0
	for i := 0; i < len(samples)-1; i++ {
		a, b := samples[i], samples[i+1]
		dt := b.T - a.T
		na := normOf(a.Omega)
		nb := normOf(b.Omega)
		total += 0.5 * (na + nb) * dt
	}
	return total
}

func normOf(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// AverageAccel returns the mean raw accelerometer reading over [t1, t2],
// used by the solver's gravity-direction initialization heuristic
// (spec.md §4.3 "Initialization"): for a near-static interval the measured
// specific force is approximately -g expressed in the IMU body frame.
func (p *Propagator) AverageAccel(t1, t2 float64) ([3]float64, bool) {
	samples, ok := p.interval(t1, t2)
	if !ok || len(samples) == 0 {
		return [3]float64{}, false
	}
	var sum [3]float64
	for _, s := range samples {
		sum[0] += s.Accel[0]
		sum[1] += s.Accel[1]
		sum[2] += s.Accel[2]
	}
	n := float64(len(samples))
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}, true
}

// interval builds the ordered sub-interval sample list spanning [t1, t2],
// synthesizing boundary samples by linear interpolation when t1/t2 fall
// strictly between buffer entries (spec.md §4.1 "Algorithm"). Returns
// ok=false if the buffer does not straddle [t1, t2] or yields fewer than
// two resampled points.
func (p *Propagator) interval(t1, t2 float64) ([]Sample, bool) {
	n := len(p.samples)
	if n < 2 || t1 < p.samples[0].T || t2 > p.samples[n-1].T {
		return nil, false
	}

	// idx1: first sample with T >= t1.
	idx1 := sort.Search(n, func(i int) bool { return p.samples[i].T >= t1 })
	// idx2: last sample with T <= t2.
	idx2 := sort.Search(n, func(i int) bool { return p.samples[i].T > t2 }) - 1
	if idx2 < idx1 {
		// t1 and t2 both fall strictly between the same pair of samples.
		if idx1 == 0 || idx1 >= n {
			return nil, false
		}
		a, b := p.samples[idx1-1], p.samples[idx1]
		return []Sample{lerpSample(a, b, t1), lerpSample(a, b, t2)}, true
	}

	var out []Sample
	if p.samples[idx1].T > t1 {
		if idx1 == 0 {
			return nil, false
		}
		out = append(out, lerpSample(p.samples[idx1-1], p.samples[idx1], t1))
	}

	for i := idx1; i <= idx2; i++ {
		out = append(out, p.samples[i])
	}

	if p.samples[idx2].T < t2 {
		if idx2+1 >= n {
			return nil, false
		}
		out = append(out, lerpSample(p.samples[idx2], p.samples[idx2+1], t2))
	}

	if len(out) < 2 {
		return nil, false
	}
	return out, true
}
