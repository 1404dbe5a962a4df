package imu

import "gonum.org/v1/gonum/mat"

// Sample is a single IMU reading: timestamp (seconds), gyro rad/s, accel
// m/s². Immutable once ingested (spec.md §3 "IMU sample").
type Sample struct {
	T     float64
	Omega [3]float64
	Accel [3]float64
}

// lerpSample linearly interpolates raw ω/a (never the bias-corrected
// values — spec.md §4.1 "synthesize boundary samples by linear
// interpolation of ω and a").
func lerpSample(a, b Sample, t float64) Sample {
	if b.T == a.T {
		return a
	}
	lambda := (t - a.T) / (b.T - a.T)
	return Sample{
		T: t,
		Omega: [3]float64{
			a.Omega[0] + lambda*(b.Omega[0]-a.Omega[0]),
			a.Omega[1] + lambda*(b.Omega[1]-a.Omega[1]),
			a.Omega[2] + lambda*(b.Omega[2]-a.Omega[2]),
		},
		Accel: [3]float64{
			a.Accel[0] + lambda*(b.Accel[0]-a.Accel[0]),
			a.Accel[1] + lambda*(b.Accel[1]-a.Accel[1]),
			a.Accel[2] + lambda*(b.Accel[2]-a.Accel[2]),
		},
	}
}

// PreintMeas is a preintegrated relative-motion measurement between two
// timestamps, linearized at a fixed bias estimate (spec.md §3
// "Preintegrated measurement").
type PreintMeas struct {
	DeltaR *mat.Dense // 3x3 rotation
	DeltaV [3]float64
	DeltaP [3]float64
	Dt     float64

	Cov *mat.SymDense // 15x15: [DeltaR(3), DeltaV(3), DeltaP(3), bg(3), ba(3)]

	DRDbg *mat.Dense // 3x3 ∂ΔR/∂b_g (tangent-space)
	DVDbg *mat.Dense
	DVDba *mat.Dense
	DPDbg *mat.Dense
	DPDba *mat.Dense

	// Linearization point, needed to re-derive a corrected measurement or
	// decide a re-linearization is due (spec.md §4.1 "Bias correction at
	// use-site").
	LinBg [3]float64
	LinBa [3]float64
}

// NoiseDensities holds the four continuous-time noise parameters from
// spec.md §6's configuration table.
type NoiseDensities struct {
	GyroNoise     float64 // σ_ω, rad/√s
	AccelNoise    float64 // σ_a, m/s²/√s
	GyroRandomWalk  float64 // σ_ωb, rad/s/√s
	AccelRandomWalk float64 // σ_ab, m/s²/√s
}

// DefaultNoiseDensities matches spec.md §6's defaults.
func DefaultNoiseDensities() NoiseDensities {
	return NoiseDensities{
		GyroNoise:       1.6968e-4,
		AccelNoise:      2.0e-3,
		GyroRandomWalk:  1.9393e-5,
		AccelRandomWalk: 3.0e-3,
	}
}

// RelinThreshold is the L∞ bias-drift threshold that triggers
// re-linearization (spec.md §4.1, defaults given there).
type RelinThreshold struct {
	Gyro  float64 // default 0.03 rad/s
	Accel float64 // default 0.1 m/s²
}

// DefaultRelinThreshold matches spec.md §4.1's defaults.
func DefaultRelinThreshold() RelinThreshold {
	return RelinThreshold{Gyro: 0.03, Accel: 0.1}
}
