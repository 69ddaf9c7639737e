package mqtt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/sweeney/scalextric-sensor/internal/logic"
)

// Format selects the wire encoding of detection messages.
type Format string

const (
	FormatJSON   Format = "json"
	FormatBinary Format = "binary"
)

// FrameSize is the length of a binary detection frame:
// node u8, sensor [12]byte, car u8, frequency u16, timestamp u32.
const FrameSize = 20

const sensorFieldSize = 12

// ErrFrameSize is returned when a binary frame is not exactly FrameSize bytes.
var ErrFrameSize = errors.New("frame size mismatch")

// Detection is one car detection as carried between nodes.
type Detection struct {
	Node        int    `json:"node"`
	Sensor      string `json:"sensor"`
	Car         int    `json:"number"`
	FrequencyHz int    `json:"frequency_hz"`
	TimestampMs uint32 `json:"timestamp_ms"`
	MsgID       string `json:"msg_id,omitempty"`
}

// Payload is the JSON envelope for a detection.
type Payload struct {
	Car Detection `json:"car"`
}

// NewDetection builds the wire form of a detection event. The timestamp is
// the node's uptime in milliseconds, which wraps after about 49 days.
func NewDetection(node int, event logic.Event) Detection {
	return Detection{
		Node:        node,
		Sensor:      event.Sensor,
		Car:         event.Car,
		FrequencyHz: int(math.Round(event.Frequency)),
		TimestampMs: uint32(event.Uptime.Milliseconds()),
		MsgID:       uuid.NewString(),
	}
}

// Encode serializes a detection in the given format.
func Encode(d Detection, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(Payload{Car: d})
	case FormatBinary:
		return EncodeFrame(d)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// EncodeFrame packs a detection into a little-endian binary frame.
// Sensor names longer than 11 bytes are truncated so the field stays
// NUL-terminated.
func EncodeFrame(d Detection) ([]byte, error) {
	if d.Node < 0 || d.Node > math.MaxUint8 {
		return nil, fmt.Errorf("node %d does not fit in a frame", d.Node)
	}
	if d.Car < 0 || d.Car > math.MaxUint8 {
		return nil, fmt.Errorf("car %d does not fit in a frame", d.Car)
	}
	if d.FrequencyHz < 0 || d.FrequencyHz > math.MaxUint16 {
		return nil, fmt.Errorf("frequency %d does not fit in a frame", d.FrequencyHz)
	}

	buf := make([]byte, FrameSize)
	buf[0] = byte(d.Node)
	name := d.Sensor
	if len(name) > sensorFieldSize-1 {
		name = name[:sensorFieldSize-1]
	}
	copy(buf[1:1+sensorFieldSize], name)
	buf[13] = byte(d.Car)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(d.FrequencyHz))
	binary.LittleEndian.PutUint32(buf[16:20], d.TimestampMs)
	return buf, nil
}

// DecodeFrame unpacks a binary frame. Frames carry no message id.
func DecodeFrame(b []byte) (Detection, error) {
	if len(b) != FrameSize {
		return Detection{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(b), FrameSize)
	}
	name := b[1 : 1+sensorFieldSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Detection{
		Node:        int(b[0]),
		Sensor:      string(name),
		Car:         int(b[13]),
		FrequencyHz: int(binary.LittleEndian.Uint16(b[14:16])),
		TimestampMs: binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// Decode accepts either encoding. Payloads starting with '{' are tried as
// JSON first; node 123 frames also start with that byte, so a frame-sized
// payload that is not valid JSON falls back to the binary decoder.
func Decode(b []byte) (Detection, error) {
	if len(b) > 0 && b[0] == '{' {
		var p Payload
		err := json.Unmarshal(b, &p)
		if err == nil {
			return p.Car, nil
		}
		if len(b) != FrameSize {
			return Detection{}, fmt.Errorf("decode detection: %w", err)
		}
	}
	return DecodeFrame(b)
}
