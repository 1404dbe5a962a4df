package ingest

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/relabs-tech/vicalib/internal/imu"
	"github.com/relabs-tech/vicalib/internal/vicon"
)

func encodeFrame(messageID uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(mavlinkV2Magic)
	buf.WriteByte(byte(len(payload))) // length
	buf.WriteByte(0)                  // incompat
	buf.WriteByte(0)                  // compat
	buf.WriteByte(0)                  // sequence
	buf.WriteByte(1)                  // system id
	buf.WriteByte(1)                  // component id
	idBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBytes, messageID)
	buf.Write(idBytes[:3])
	buf.Write(payload)
	buf.Write([]byte{0, 0}) // checksum, unvalidated by this reader
	return buf.Bytes()
}

func rawIMUPayload(t float64, omega, accel [3]float64) []byte {
	payload := make([]byte, 26)
	binary.LittleEndian.PutUint64(payload[0:8], uint64(t*1e6))
	const mpsToMg = 1000.0 / 9.81
	const radToMrad = 1000.0
	binary.LittleEndian.PutUint16(payload[8:10], uint16(int16(accel[0]*mpsToMg)))
	binary.LittleEndian.PutUint16(payload[10:12], uint16(int16(accel[1]*mpsToMg)))
	binary.LittleEndian.PutUint16(payload[12:14], uint16(int16(accel[2]*mpsToMg)))
	binary.LittleEndian.PutUint16(payload[14:16], uint16(int16(omega[0]*radToMrad)))
	binary.LittleEndian.PutUint16(payload[16:18], uint16(int16(omega[1]*radToMrad)))
	binary.LittleEndian.PutUint16(payload[18:20], uint16(int16(omega[2]*radToMrad)))
	return payload
}

func TestReadMAVLinkFrameRoundTrip(t *testing.T) {
	payload := rawIMUPayload(1.5, [3]float64{0.1, 0, 0}, [3]float64{0, 0, -9.81})
	raw := encodeFrame(msgIDRawIMU, payload)

	frame, err := ReadMAVLinkFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMAVLinkFrame: %v", err)
	}
	if frame.MessageID != msgIDRawIMU {
		t.Fatalf("MessageID = %d, want %d", frame.MessageID, msgIDRawIMU)
	}
	if len(frame.Payload) != len(payload) {
		t.Fatalf("payload len = %d, want %d", len(frame.Payload), len(payload))
	}
}

func TestDecodeRawIMUFeedsPropagator(t *testing.T) {
	prop := imu.NewPropagator(imu.DefaultNoiseDensities(), imu.DefaultRelinThreshold())
	payload := rawIMUPayload(1.0, [3]float64{0, 0, 0}, [3]float64{0, 0, -9.81})
	if err := DecodeRawIMU(payload, prop); err != nil {
		t.Fatalf("DecodeRawIMU: %v", err)
	}
	if prop.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", prop.Len())
	}
}

func attitudeQuatPayload(tBootMs uint32, q [4]float64) []byte {
	payload := make([]byte, 20)
	binary.LittleEndian.PutUint32(payload[0:4], tBootMs)
	binary.LittleEndian.PutUint32(payload[4:8], math.Float32bits(float32(q[3])))
	binary.LittleEndian.PutUint32(payload[8:12], math.Float32bits(float32(q[0])))
	binary.LittleEndian.PutUint32(payload[12:16], math.Float32bits(float32(q[1])))
	binary.LittleEndian.PutUint32(payload[16:20], math.Float32bits(float32(q[2])))
	return payload
}

func TestDecodeAttitudeQuaternionFeedsInterpolator(t *testing.T) {
	interp := vicon.NewInterpolator()
	payload := attitudeQuatPayload(1000, [4]float64{0, 0, 0, 1})
	if err := DecodeAttitudeQuaternion(payload, interp, [6]float64{0.01, 0.01, 0.01, 0.01, 0.01, 0.01}); err != nil {
		t.Fatalf("DecodeAttitudeQuaternion: %v", err)
	}
	if interp.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", interp.Len())
	}
}

func TestLoadMAVLinkLogRoutesByMessageID(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeFrame(msgIDRawIMU, rawIMUPayload(0.0, [3]float64{}, [3]float64{0, 0, -9.81})))
	buf.Write(encodeFrame(msgIDRawIMU, rawIMUPayload(0.01, [3]float64{}, [3]float64{0, 0, -9.81})))
	buf.Write(encodeFrame(msgIDAttitudeQuaternion, attitudeQuatPayload(0, [4]float64{0, 0, 0, 1})))

	prop := imu.NewPropagator(imu.DefaultNoiseDensities(), imu.DefaultRelinThreshold())
	interp := vicon.NewInterpolator()
	imuCount, poseCount, err := LoadMAVLinkLog(&buf, prop, interp, [6]float64{0.01, 0.01, 0.01, 0.01, 0.01, 0.01})
	if err != nil {
		t.Fatalf("LoadMAVLinkLog: %v", err)
	}
	if imuCount != 2 || poseCount != 1 {
		t.Fatalf("imuCount=%d poseCount=%d, want 2,1", imuCount, poseCount)
	}
}
