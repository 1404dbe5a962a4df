package ingest

import (
	"io"

	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/vicon"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialCapture streams MAVLink frames off a live serial link and
// normalizes them through the same decode path as LoadMAVLinkLog
// (SPEC_FULL.md DOMAIN STACK: "optional live-capture ingestion adapter
// ... exercising the same normalization path as file ingestion"). Recording
// only: it never writes to the port.
type SerialCapture struct {
	port serial.Port
	log  *logrus.Entry
}

// ListPorts enumerates USB serial ports, adapted from the teacher's
// ListSerialPorts.
func ListPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range ports {
		if p.IsUSB {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

// OpenSerialCapture opens portName at baud for reading, adapted from the
// teacher's MAVLinkProtocol.OpenSerialPort (8N1, no flow control; a
// recording link has no need for the teacher's write-side sequencing).
func OpenSerialCapture(portName string, baud int, log *logrus.Entry) (*SerialCapture, error) {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	return &SerialCapture{port: port, log: log}, nil
}

// Close releases the underlying port.
func (c *SerialCapture) Close() error {
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}

// Run reads MAVLink frames from the port until a read returns EOF or an
// error, feeding RAW_IMU and ATTITUDE_QUATERNION frames into prop
// and interp respectively (spec.md §5: ingestion may run on a producer
// side, but must complete before build_and_solve begins — callers close
// the capture before invoking the solver).
func (c *SerialCapture) Run(prop *imu.Propagator, interp *vicon.Interpolator, manualSigmas [6]float64) (imuCount, poseCount int, err error) {
	imuCount, poseCount, err = LoadMAVLinkLog(c.port, prop, interp, manualSigmas)
	if err == io.EOF {
		err = nil
	}
	if c.log != nil {
		c.log.WithFields(logrus.Fields{"imu_samples": imuCount, "pose_samples": poseCount}).Info("serial capture ended")
	}
	return imuCount, poseCount, err
}
