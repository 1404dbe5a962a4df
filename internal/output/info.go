package output

import (
	"fmt"
	"math"
	"os"

	"github.com/relabs-tech/vicalib/internal/manifold"
	"github.com/relabs-tech/vicalib/internal/solver"
	"gonum.org/v1/gonum/mat"
)

// Counts summarizes how many samples of each input type the run ingested
// (spec.md §6 "Info file": "counts of each input type").
type Counts struct {
	IMUSamples       int
	PoseSamples      int
	ReferenceTimes   int
	Relinearizations uint64
}

// WriteInfo writes the calibration results, their marginal standard
// deviations, and run diagnostics (spec.md §6 "Info file"): Rᴵⱽ as both
// quaternion and rotation matrix, gⱽ, tₒff, iteration count, final cost,
// and input counts. SPEC_FULL.md adds the bias re-linearization count.
func WriteInfo(path string, res *solver.Result, counts Counts) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	riv, arm, grav, toff := res.CalibrationMarginals()
	q := manifold.RotToQuat(res.Calibration.RIV)

	fmt.Fprintf(f, "Vicon/IMU extrinsic calibration result\n")
	fmt.Fprintf(f, "=======================================\n\n")

	fmt.Fprintf(f, "R_IV (IMU frame expressed in Vicon frame)\n")
	fmt.Fprintf(f, "  quaternion [x y z w] = [%.9f %.9f %.9f %.9f]\n", q[0], q[1], q[2], q[3])
	fmt.Fprintf(f, "  matrix:\n")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(f, "    %.9f %.9f %.9f\n", res.Calibration.RIV.At(i, 0), res.Calibration.RIV.At(i, 1), res.Calibration.RIV.At(i, 2))
	}
	if riv != nil {
		sd := diagSqrt(riv)
		fmt.Fprintf(f, "  marginal std-dev (tangent, rad) = [%.9f %.9f %.9f]\n", sd[0], sd[1], sd[2])
	} else {
		fmt.Fprintf(f, "  held fixed (not estimated)\n")
	}
	fmt.Fprintln(f)

	if counts.Relinearizations > 0 || arm != nil {
		fmt.Fprintf(f, "t_IV (IMU-to-Vicon-marker position arm)\n")
		fmt.Fprintf(f, "  value = [%.9f %.9f %.9f] m\n", res.Calibration.PositionArm[0], res.Calibration.PositionArm[1], res.Calibration.PositionArm[2])
		if arm != nil {
			sd := diagSqrt(arm)
			fmt.Fprintf(f, "  marginal std-dev = [%.9f %.9f %.9f] m\n", sd[0], sd[1], sd[2])
		} else {
			fmt.Fprintf(f, "  held fixed (not estimated)\n")
		}
		fmt.Fprintln(f)
	}

	gv := res.Calibration.Gravity.Vector()
	fmt.Fprintf(f, "g_V (gravity direction in the Vicon frame)\n")
	fmt.Fprintf(f, "  vector = [%.9f %.9f %.9f] m/s^2\n", gv[0], gv[1], gv[2])
	if grav != nil {
		sd := diagSqrt(grav)
		fmt.Fprintf(f, "  marginal std-dev (chart tangent) = [%.9f %.9f]\n", sd[0], sd[1])
	} else {
		fmt.Fprintf(f, "  held fixed (not estimated)\n")
	}
	fmt.Fprintln(f)

	fmt.Fprintf(f, "t_off (IMU_time = Vicon_time + t_off)\n")
	fmt.Fprintf(f, "  value = %.9f s\n", res.Calibration.Toff)
	if toff != nil {
		sd := diagSqrt(toff)
		fmt.Fprintf(f, "  marginal std-dev = %.9f s\n", sd[0])
	} else {
		fmt.Fprintf(f, "  held fixed (not estimated)\n")
	}
	fmt.Fprintln(f)

	fmt.Fprintf(f, "Optimization\n")
	fmt.Fprintf(f, "  iterations          = %d\n", res.Iterations)
	fmt.Fprintf(f, "  final cost          = %.9f\n", res.FinalCost)
	fmt.Fprintf(f, "  cancelled           = %v\n", res.Cancelled)
	fmt.Fprintf(f, "  convergence_failure = %v\n", res.ConvergenceFailure)
	fmt.Fprintln(f)

	fmt.Fprintf(f, "Input counts\n")
	fmt.Fprintf(f, "  imu_samples       = %d\n", counts.IMUSamples)
	fmt.Fprintf(f, "  pose_samples      = %d\n", counts.PoseSamples)
	fmt.Fprintf(f, "  reference_times   = %d\n", counts.ReferenceTimes)
	fmt.Fprintf(f, "  relinearizations  = %d\n", counts.Relinearizations)

	return nil
}

// diagSqrt returns sqrt of each diagonal entry of a SymDense, the marginal
// standard deviations spec.md §6 asks the info file to report.
func diagSqrt(m *mat.SymDense) []float64 {
	n := m.Symmetric()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := m.At(i, i)
		if v < 0 {
			v = 0
		}
		out[i] = math.Sqrt(v)
	}
	return out
}
