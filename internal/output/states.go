// Package output writes the two artifacts spec.md §6 "Output artifacts"
// names: the per-timestamp states CSV and the calibration info text file.
package output

import (
	"bufio"
	"fmt"
	"os"

	"github.com/relabs-tech/vicalib/internal/manifold"
	"github.com/relabs-tech/vicalib/internal/solver"
)

// WriteStates writes one row per reference timestamp in the exact column
// order and numeric format of spec.md §6's "States file":
// `t, qx, qy, qz, qw, px, py, pz, vx, vy, vz, bgx, bgy, bgz, bax, bay, baz`,
// `%.9f` for time and `%.6f` for everything else, newline-terminated.
func WriteStates(path string, res *solver.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i, node := range res.Nodes {
		q := manifold.RotToQuat(node.R)
		t := res.RefTimes[i]
		if _, err := fmt.Fprintf(w,
			"%.9f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
			t, q[0], q[1], q[2], q[3],
			node.P[0], node.P[1], node.P[2],
			node.V[0], node.V[1], node.V[2],
			node.Bg[0], node.Bg[1], node.Bg[2],
			node.Ba[0], node.Ba[1], node.Ba[2],
		); err != nil {
			return fmt.Errorf("output: write %s: %w", path, err)
		}
	}
	return w.Flush()
}
