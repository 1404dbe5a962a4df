package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/vicon"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadIMUAcceptsMonotoneRows(t *testing.T) {
	path := writeTemp(t, "imu.csv", "t,wx,wy,wz,ax,ay,az\n"+
		"0.00,0,0,0,0,0,-9.81\n"+
		"0.01,0,0,0,0,0,-9.81\n"+
		"0.02,0,0,0,0,0,-9.81\n")

	prop := imu.NewPropagator(imu.DefaultNoiseDensities(), imu.DefaultRelinThreshold())
	accepted, rejected, err := LoadIMU(path, prop)
	if err != nil {
		t.Fatalf("LoadIMU: %v", err)
	}
	if accepted != 3 || rejected != 0 {
		t.Fatalf("accepted=%d rejected=%d, want 3,0", accepted, rejected)
	}
	if prop.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", prop.Len())
	}
}

func TestLoadIMURejectsNonMonotone(t *testing.T) {
	path := writeTemp(t, "imu.csv", "0.02,0,0,0,0,0,0\n0.01,0,0,0,0,0,0\n")

	prop := imu.NewPropagator(imu.DefaultNoiseDensities(), imu.DefaultRelinThreshold())
	accepted, rejected, err := LoadIMU(path, prop)
	if err != nil {
		t.Fatalf("LoadIMU: %v", err)
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d, want 1,1", accepted, rejected)
	}
}

func TestLoadViconUsesManualSigmasWhenRequested(t *testing.T) {
	path := writeTemp(t, "vicon.csv", "0.0,0,0,0,1,0,0,0\n0.1,0,0,0,1,1,0,0\n")

	interp := vicon.NewInterpolator()
	manual := [6]float64{0.01, 0.01, 0.01, 0.001, 0.001, 0.001}
	accepted, rejected, err := LoadVicon(path, interp, manual, true)
	if err != nil {
		t.Fatalf("LoadVicon: %v", err)
	}
	if accepted != 2 || rejected != 0 {
		t.Fatalf("accepted=%d rejected=%d, want 2,0", accepted, rejected)
	}
	if interp.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", interp.Len())
	}
}

func TestLoadReferenceTimesSkipsHeaderAndBlankLines(t *testing.T) {
	path := writeTemp(t, "refs.csv", "t\n0.0\n0.05\n\n0.10\n")

	times, err := LoadReferenceTimes(path)
	if err != nil {
		t.Fatalf("LoadReferenceTimes: %v", err)
	}
	want := []float64{0.0, 0.05, 0.10}
	if len(times) != len(want) {
		t.Fatalf("len = %d, want %d", len(times), len(want))
	}
	for i, w := range want {
		if times[i] != w {
			t.Fatalf("times[%d] = %v, want %v", i, times[i], w)
		}
	}
}

func TestReferenceTimesRange(t *testing.T) {
	times := ReferenceTimesRange(0, 0.2, 0.05)
	if len(times) != 5 {
		t.Fatalf("len = %d, want 5", len(times))
	}
	if times[0] != 0 || times[len(times)-1] < 0.199 {
		t.Fatalf("unexpected range bounds: %v", times)
	}
}
