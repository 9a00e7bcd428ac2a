// Package telemetry ingests sensor records pushed by the telemetry server
// over a Socket.IO websocket session and keeps them in arrival order.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultFieldCount is the number of fields in a voltage record:
// GSR, angle, force and knee temperature.
const DefaultFieldCount = 4

// FieldNames labels the fields of a voltage record.
var FieldNames = [DefaultFieldCount]string{"GSR", "Angle", "Force", "Knee Temp(°C)"}

// SensorSample is one decoded sensor record. It is immutable.
type SensorSample struct {
	receivedAt time.Time
	time       string
	fields     []string
}

// NewSensorSample builds a sample from already-split fields.
func NewSensorSample(receivedAt time.Time, eventTime string, fields []string) SensorSample {
	return SensorSample{
		receivedAt: receivedAt,
		time:       eventTime,
		fields:     append([]string(nil), fields...),
	}
}

// ReceivedAt returns when the sample arrived.
func (s SensorSample) ReceivedAt() time.Time { return s.receivedAt }

// Time returns the event's own time token as sent by the server.
func (s SensorSample) Time() string { return s.time }

// Fields returns a copy of the trimmed field tokens in wire order.
func (s SensorSample) Fields() []string {
	return append([]string(nil), s.fields...)
}

// Len returns the number of fields.
func (s SensorSample) Len() int { return len(s.fields) }

// Format renders the fields for display: trimmed and joined by a comma
// followed by two spaces.
func (s SensorSample) Format() string {
	return strings.Join(s.fields, ",  ")
}

// DecodeError reports a malformed telemetry payload.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("telemetry: decode %q: %v", e.Payload, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// sensorEvent is the JSON body of a sensorData event.
type sensorEvent struct {
	Time    json.RawMessage `json:"time"`
	Voltage *string         `json:"voltage"`
}

// Decoder turns event payloads into samples.
type Decoder struct {
	FieldCount int
	Now        func() time.Time
}

// Decode parses a {time, voltage} event body.
func (d Decoder) Decode(raw []byte) (SensorSample, error) {
	var ev sensorEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return SensorSample{}, &DecodeError{Payload: string(raw), Err: err}
	}
	if ev.Voltage == nil {
		return SensorSample{}, &DecodeError{Payload: string(raw), Err: fmt.Errorf("missing voltage")}
	}
	fields, err := d.SplitFields(*ev.Voltage)
	if err != nil {
		return SensorSample{}, &DecodeError{Payload: string(raw), Err: err}
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return SensorSample{receivedAt: now(), time: timeToken(ev.Time), fields: fields}, nil
}

// SplitFields splits a comma-separated record, trims each field and checks
// the field count and that every field is numeric.
func (d Decoder) SplitFields(record string) ([]string, error) {
	want := d.FieldCount
	if want <= 0 {
		want = DefaultFieldCount
	}
	fields := strings.Split(record, ",")
	if len(fields) != want {
		return nil, fmt.Errorf("got %d fields, want %d", len(fields), want)
	}
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if _, err := strconv.ParseFloat(f, 64); err != nil {
			return nil, fmt.Errorf("field %d: %q is not numeric", i, f)
		}
		fields[i] = f
	}
	return fields, nil
}

// timeToken renders the raw time value: strings are unquoted, numbers and
// other JSON values are kept verbatim.
func timeToken(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
