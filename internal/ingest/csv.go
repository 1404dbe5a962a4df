// Package ingest adapts external recorded data into the shapes the
// Propagator and Interpolator consume: (timestamp, value) samples
// (spec.md §1 "Out of scope (external collaborators)": "Their only
// contract is to deliver (timestamp, value) samples to the estimator").
// CSV is the default recorded-message container; SPEC_FULL.md's
// "extensibility" note adds a MAVLink binary-log reader and an optional
// live serial capture on top of it, all normalizing to the same calls.
package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/vicon"
	"gonum.org/v1/gonum/mat"
)

// LoadIMU reads a CSV file of `t,wx,wy,wz,ax,ay,az` rows (an optional
// header line starting with a non-numeric first field is skipped) and
// feeds every row into prop. Returns the count accepted and the count
// rejected for non-monotonic timestamps (spec.md §7 "IngestionOrderError
// ... the sample is dropped; caller informed").
func LoadIMU(path string, prop *imu.Propagator) (accepted, rejected int, err error) {
	rows, err := readCSV(path, 7)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		t, werr := strconv.ParseFloat(row[0], 64)
		if werr != nil {
			continue
		}
		var omega, accel [3]float64
		for i := 0; i < 3; i++ {
			omega[i], _ = strconv.ParseFloat(row[1+i], 64)
			accel[i], _ = strconv.ParseFloat(row[4+i], 64)
		}
		if err := prop.Feed(t, omega, accel); err != nil {
			rejected++
			continue
		}
		accepted++
	}
	return accepted, rejected, nil
}

// LoadVicon reads a CSV file of `t,qx,qy,qz,qw,px,py,pz[,sigma_rx,...,sigma_z]`
// rows. When the optional six trailing sigma columns are absent,
// manualSigmas (spec.md §6 "vicon_sigmas", applied when samples lack
// covariance) supplies per-sample diagonal covariance.
func LoadVicon(path string, interp *vicon.Interpolator, manualSigmas [6]float64, useManual bool) (accepted, rejected int, err error) {
	rows, err := readCSV(path, 8)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		t, terr := strconv.ParseFloat(row[0], 64)
		if terr != nil {
			continue
		}
		var q [4]float64
		var p [3]float64
		for i := 0; i < 4; i++ {
			q[i], _ = strconv.ParseFloat(row[1+i], 64)
		}
		for i := 0; i < 3; i++ {
			p[i], _ = strconv.ParseFloat(row[5+i], 64)
		}

		var sigmas [6]float64
		haveSigmas := !useManual && len(row) >= 14
		if haveSigmas {
			for i := 0; i < 6; i++ {
				sigmas[i], _ = strconv.ParseFloat(row[8+i], 64)
			}
		} else {
			sigmas = manualSigmas
		}
		covR, covP := diagCovariances(sigmas)

		if err := interp.Feed(t, q, p, covR, covP); err != nil {
			rejected++
			continue
		}
		accepted++
	}
	return accepted, rejected, nil
}

// LoadReferenceTimes reads a sorted list of reference timestamps
// (spec.md §3: "a sequence of reference timestamps (typically camera
// frame times)"), one per line or as the first CSV column, skipping a
// non-numeric header row if present. SPEC_FULL.md "SUPPLEMENT": this
// stream has no sample shape of its own, so the loader only cares about
// the leading field.
func LoadReferenceTimes(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open reference timestamps %s: %w", path, err)
	}
	defer f.Close()

	var out []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		field := strings.SplitN(line, ",", 2)[0]
		t, perr := strconv.ParseFloat(field, 64)
		if perr != nil {
			continue
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: scan reference timestamps %s: %w", path, err)
	}
	return out, nil
}

// ReferenceTimesRange synthesizes a uniformly spaced reference timestamp
// list, the flag-specified alternative to a file named in spec.md §3.
func ReferenceTimesRange(start, end, step float64) []float64 {
	if step <= 0 || end <= start {
		return nil
	}
	var out []float64
	for t := start; t <= end+1e-12; t += step {
		out = append(out, t)
	}
	return out
}

func readCSV(path string, minFields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("ingest: parse %s: %w", path, rerr)
		}
		if len(row) < minFields {
			continue
		}
		if _, perr := strconv.ParseFloat(row[0], 64); perr != nil {
			continue // header row
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// diagCovariances builds diagonal 3x3 SPD covariances from the six-vector
// (σ_rx,ry,rz, σ_x,y,z) of spec.md §6's `vicon_sigmas`.
func diagCovariances(sigmas [6]float64) (*mat.SymDense, *mat.SymDense) {
	covR := mat.NewSymDense(3, nil)
	covP := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		covR.SetSym(i, i, sigmas[i]*sigmas[i])
		covP.SetSym(i, i, sigmas[3+i]*sigmas[3+i])
	}
	return covR, covP
}
