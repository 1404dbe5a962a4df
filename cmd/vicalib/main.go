// VICALIB - Vicon/IMU Extrinsic Calibration & Batch Trajectory Estimator
//
// Estimates the rigid-body transform between a motion-capture reference
// frame and an IMU body frame, a time offset, gravity direction, and the
// full state trajectory at a chosen set of reference timestamps, from
// batch-recorded IMU and Vicon streams.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/vicalib/internal/config"
	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/ingest"
	"github.com/relabs-tech/vicalib/internal/output"
	"github.com/relabs-tech/vicalib/internal/solver"
	"github.com/relabs-tech/vicalib/internal/telemetry"
	"github.com/relabs-tech/vicalib/internal/vicon"
	"github.com/relabs-tech/vicalib/pkg/utils"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
	gitCommit = "unknown"

	configFile = flag.String("config", "", "JSON configuration file overlaying the defaults")

	imuFile       = flag.String("imu", "", "IMU samples CSV file (t,wx,wy,wz,ax,ay,az)")
	viconFile     = flag.String("vicon", "", "Vicon pose samples CSV file (t,qx,qy,qz,qw,px,py,pz[,sigmas])")
	mavlinkFile   = flag.String("mavlink-log", "", "Binary MAVLink log, alternate source for IMU/pose samples")
	refTimesFile  = flag.String("ref-times", "", "Reference timestamps file, one per line (or CSV first column)")
	refTimesStart = flag.Float64("ref-start", 0, "Reference timestamp range start, used when -ref-times is empty")
	refTimesEnd   = flag.Float64("ref-end", 0, "Reference timestamp range end")
	refTimesStep  = flag.Float64("ref-step", 0.05, "Reference timestamp range step")

	outStates = flag.String("out-states", "states.csv", "Output states CSV path")
	outInfo   = flag.String("out-info", "info.txt", "Output calibration info path")

	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logOutput = flag.String("log-output", "stdout", "Log output: stdout or a file path")

	maxIterations = flag.Int("max-iterations", 100, "Optimizer max iterations")
	relativeTol   = flag.Float64("relative-tol", 1e-6, "Optimizer relative cost-change tolerance")

	estimateToff    = flag.Bool("estimate-toff", true, "Estimate the IMU/Vicon time offset")
	estimateRIV     = flag.Bool("estimate-riv", true, "Estimate the IMU-to-Vicon rotation")
	estimateGravity = flag.Bool("estimate-gravity", true, "Estimate gravity direction in the Vicon frame")

	enableTelemetry = flag.Bool("telemetry", false, "Serve solver progress over a WebSocket while solving")
	telemetryAddr   = flag.String("telemetry-addr", ":8793", "Telemetry HTTP/WebSocket listen address")
	telemetryToken  = flag.String("telemetry-token", "", "HMAC secret for telemetry bearer tokens; empty disables auth")
)

// Exit codes, spec.md §6 "Exit codes".
const (
	exitOK                = 0
	exitInsufficientData  = 1
	exitOutOfRange        = 2
	exitOptimizerDiverged = 3
	exitConfigError       = 4
)

// Estimator wires the ingestion adapters, the Propagator/Interpolator
// buffers, and the GraphSolver into one batch run, mirroring the teacher's
// Initialize/Run/Shutdown lifecycle shape for a single offline job instead
// of a long-lived flight process (spec.md §5: "single-threaded,
// synchronous, and batch").
type Estimator struct {
	cfg    config.Config
	prop   *imu.Propagator
	interp *vicon.Interpolator
	gsolve *solver.GraphSolver
	stream *telemetry.Streamer

	httpServer *http.Server
	counts     output.Counts

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	flag.Parse()
	logger := utils.NewLogger(*logLevel, *logOutput)
	log := logger.WithField("component", "vicalib")

	log.Infof("vicalib %s (build %s, commit %s): Vicon/IMU extrinsic calibration estimator", version, buildTime, gitCommit)

	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Error("configuration error")
		os.Exit(exitConfigError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, cancelling build_and_solve cooperatively")
		cancel()
	}()

	est := &Estimator{cfg: cfg, ctx: ctx, cancel: cancel}
	if err := est.Initialize(log); err != nil {
		log.WithError(err).Error("initialization failed")
		os.Exit(exitConfigError)
	}

	code := est.Run(log)
	est.Shutdown(log)
	os.Exit(code)
}

// loadConfig builds the defaults, overlays an optional JSON file, then
// overlays the flags a caller set explicitly, and validates the result
// (SPEC_FULL.md "config validation pass" turns a malformed configuration
// into exit code 4 instead of a panic deep inside the solver).
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-iterations":
			cfg.MaxIterations = *maxIterations
		case "relative-tol":
			cfg.RelativeTol = *relativeTol
		case "estimate-toff":
			cfg.EstimateTimeOffset = *estimateToff
		case "estimate-riv":
			cfg.EstimateRIV = *estimateRIV
		case "estimate-gravity":
			cfg.EstimateGravity = *estimateGravity
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-output":
			cfg.LogOutput = *logOutput
		case "telemetry":
			cfg.EnableTelemetry = *enableTelemetry
		case "telemetry-addr":
			cfg.TelemetryAddr = *telemetryAddr
		case "telemetry-token":
			cfg.TelemetryToken = *telemetryToken
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Initialize builds the Propagator/Interpolator, ingests every configured
// input source, and wires the optional telemetry server (spec.md §5:
// "feed_* must complete before build_and_solve begins").
func (e *Estimator) Initialize(log *logrus.Entry) error {
	e.prop = imu.NewPropagator(e.cfg.NoiseDensities(), e.cfg.RelinThreshold())
	e.interp = vicon.NewInterpolator()

	if *imuFile != "" {
		n, rejected, err := ingest.LoadIMU(*imuFile, e.prop)
		if err != nil {
			return err
		}
		log.WithField("accepted", n).WithField("rejected", rejected).Info("loaded IMU samples")
		e.counts.IMUSamples = n
	}
	if *viconFile != "" {
		n, rejected, err := ingest.LoadVicon(*viconFile, e.interp, e.cfg.ViconSigmas, e.cfg.UseManualSigmas)
		if err != nil {
			return err
		}
		log.WithField("accepted", n).WithField("rejected", rejected).Info("loaded Vicon samples")
		e.counts.PoseSamples = n
	}
	if *mavlinkFile != "" {
		f, err := os.Open(*mavlinkFile)
		if err != nil {
			return err
		}
		defer f.Close()
		imuN, poseN, err := ingest.LoadMAVLinkLog(f, e.prop, e.interp, e.cfg.ViconSigmas)
		if err != nil {
			return err
		}
		e.counts.IMUSamples += imuN
		e.counts.PoseSamples += poseN
		log.WithField("imu", imuN).WithField("pose", poseN).Info("loaded MAVLink log")
	}

	if e.cfg.EnableTelemetry {
		e.stream = telemetry.NewStreamer(e.cfg.TelemetryToken, log)
		mux := http.NewServeMux()
		mux.HandleFunc("/progress", e.stream.HandleWebSocket)
		e.httpServer = &http.Server{Addr: e.cfg.TelemetryAddr, Handler: mux}
		go func() {
			if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("telemetry server failed")
			}
		}()
		go e.stream.Run(e.ctx)
		log.WithField("addr", e.cfg.TelemetryAddr).Info("telemetry server listening")
	}

	e.gsolve = solver.NewGraphSolver(e.cfg, e.prop, e.interp, log)
	if e.stream != nil {
		e.gsolve.SetProgressCallback(func(iter int, cost, lambda float64) {
			e.stream.Publish(&telemetry.ProgressMessage{Iteration: iter, Cost: cost, Lambda: lambda, Timestamp: time.Now()})
		})
	}
	return nil
}

// Run loads reference timestamps, invokes BuildAndSolve, and writes both
// output artifacts, returning the spec.md §6 exit code for the outcome.
func (e *Estimator) Run(log *logrus.Entry) int {
	refTimes, err := e.loadReferenceTimes()
	if err != nil {
		log.WithError(err).Error("failed to load reference timestamps")
		return exitInsufficientData
	}
	e.counts.ReferenceTimes = len(refTimes)
	if len(refTimes) == 0 {
		log.Error("no reference timestamps available")
		return exitInsufficientData
	}
	if e.prop.Len() == 0 || e.interp.Len() == 0 {
		log.Error("empty IMU or Vicon buffer")
		return exitInsufficientData
	}

	shouldStop := func() bool {
		select {
		case <-e.ctx.Done():
			return true
		default:
			return false
		}
	}

	res, err := e.gsolve.BuildAndSolve(refTimes, shouldStop)
	if err != nil {
		switch err.(type) {
		case *solver.InsufficientDataError:
			log.WithError(err).Error("insufficient data")
			return exitInsufficientData
		case *solver.OutOfRangeError:
			log.WithError(err).Error("reference timestamp out of buffer range")
			return exitOutOfRange
		case *solver.NumericalFailure:
			log.WithError(err).Error("optimizer diverged")
			return exitOptimizerDiverged
		default:
			log.WithError(err).Error("build_and_solve failed")
			return exitOptimizerDiverged
		}
	}

	if e.stream != nil {
		e.stream.Publish(&telemetry.ProgressMessage{Iteration: res.Iterations, Cost: res.FinalCost, Done: true, Timestamp: time.Now()})
	}

	e.counts.Relinearizations = e.prop.RelinearizationCount()

	if err := output.WriteStates(*outStates, res); err != nil {
		log.WithError(err).Error("failed to write states file")
		return exitOptimizerDiverged
	}
	if err := output.WriteInfo(*outInfo, res, e.counts); err != nil {
		log.WithError(err).Error("failed to write info file")
		return exitOptimizerDiverged
	}

	log.WithField("iterations", res.Iterations).
		WithField("final_cost", res.FinalCost).
		WithField("cancelled", res.Cancelled).
		WithField("convergence_failure", res.ConvergenceFailure).
		Info("build_and_solve complete")

	if res.Cancelled {
		return exitOptimizerDiverged
	}
	return exitOK
}

// Shutdown stops the optional telemetry server.
func (e *Estimator) Shutdown(log *logrus.Entry) {
	e.cancel()
	if e.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("telemetry server shutdown error")
		}
	}
}

func (e *Estimator) loadReferenceTimes() ([]float64, error) {
	if *refTimesFile != "" {
		return ingest.LoadReferenceTimes(*refTimesFile)
	}
	return ingest.ReferenceTimesRange(*refTimesStart, *refTimesEnd, *refTimesStep), nil
}
