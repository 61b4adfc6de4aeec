package types

import (
	"time"

	"github.com/mjasion/balena-home/freeclip/decoder"
)

// Reading is a decoded battery reading tagged with the device it came from
type Reading struct {
	Timestamp time.Time
	Address   string
	Name      string
	RSSI      int16
	Battery   decoder.BatteryReading
}

// NewReading builds a Reading from the frame the battery state was decoded from
func NewReading(frame Frame, battery decoder.BatteryReading) *Reading {
	ts := frame.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Reading{
		Timestamp: ts,
		Address:   frame.Address,
		Name:      frame.Name,
		RSSI:      frame.RSSI,
		Battery:   battery,
	}
}
