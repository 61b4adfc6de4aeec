package types

import "time"

// Frame is a single advertisement reported by the radio
type Frame struct {
	Name       string // advertised local name, empty when the device did not send one
	Address    string // hardware address as reported by the platform
	Payload    []byte // raw advertisement record
	RSSI       int16
	ReceivedAt time.Time
}

// HasName reports whether the device advertised a local name
func (f Frame) HasName() bool {
	return f.Name != ""
}
