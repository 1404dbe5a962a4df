package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/vicalib/internal/manifold"
	"github.com/relabs-tech/vicalib/internal/solver"
	"gonum.org/v1/gonum/mat"
)

func sampleResult() *solver.Result {
	return &solver.Result{
		Nodes: []solver.StateNode{
			{R: manifold.Identity3(), P: [3]float64{1, 2, 3}, V: [3]float64{0.1, 0, 0}, Bg: [3]float64{}, Ba: [3]float64{}},
		},
		RefTimes:    []float64{0.5},
		Calibration: solver.Calibration{RIV: manifold.Identity3(), Gravity: manifold.NewGravity([3]float64{0, 0, -1})},
		Marginals:   map[string]*mat.SymDense{},
		FinalCost:   1e-8,
		Iterations:  12,
	}
}

func TestWriteStatesFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.csv")
	if err := WriteStates(path, sampleResult()); err != nil {
		t.Fatalf("WriteStates: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	fields := strings.Split(line, ",")
	if len(fields) != 17 {
		t.Fatalf("field count = %d, want 17", len(fields))
	}
	if !strings.HasPrefix(fields[0], "0.500000000") {
		t.Fatalf("time field = %q, want 9-decimal formatting", fields[0])
	}
}

func TestWriteInfoReportsHeldFixedUnknowns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.txt")
	if err := WriteInfo(path, sampleResult(), Counts{IMUSamples: 100, PoseSamples: 50, ReferenceTimes: 1}); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "held fixed (not estimated)") {
		t.Fatalf("expected held-fixed marker for unestimated calibration, got:\n%s", data)
	}
}
