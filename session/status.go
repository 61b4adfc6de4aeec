package session

import (
	"fmt"
	"strings"

	"github.com/mjasion/balena-home/freeclip/decoder"
	"github.com/mjasion/balena-home/freeclip/types"
)

const (
	initialMessage          = "Scanning for devices..."
	radioDisabledMessage    = "Please turn on Bluetooth, then tap anywhere to retry"
	permissionDeniedMessage = "Please grant all required permissions"
	stoppedSuffix           = "\nUpdates stopped, tap anywhere to refresh"
	unknownDeviceName       = "Unknown"
)

func searchingMessage(deviceName string) string {
	return fmt.Sprintf("Searching for %s...", deviceName)
}

func notFoundMessage(deviceName string) string {
	return fmt.Sprintf("%s not found, tap anywhere to retry", deviceName)
}

func scanFailedMessage(code int) string {
	return fmt.Sprintf("Bluetooth scan failed: %d", code)
}

// FormatReading composes the status text shown for a decoded advertisement
func FormatReading(frame types.Frame, reading decoder.BatteryReading) string {
	name := frame.Name
	if name == "" {
		name = unknownDeviceName
	}

	lines := []string{
		"Device name: " + name,
		"Device address: " + frame.Address,
		"Case battery: " + formatCell(reading.Case),
		"Left earbud battery: " + formatCell(reading.Left),
		"Right earbud battery: " + formatCell(reading.Right),
		"Debug data: " + decoder.HexDump(frame.Payload),
	}
	return strings.Join(lines, "\n")
}

func formatCell(c decoder.Cell) string {
	if c.Charging {
		return fmt.Sprintf("%d%% charging", c.Percent)
	}
	return fmt.Sprintf("%d%%", c.Percent)
}

// stoppedStatus is the text shown once updates stop. It never stacks the
// stopped suffix, so stopping twice leaves the text unchanged.
func stoppedStatus(status, deviceName string) string {
	switch {
	case status == searchingMessage(deviceName):
		return notFoundMessage(deviceName)
	case status == notFoundMessage(deviceName), strings.HasSuffix(status, stoppedSuffix):
		return status
	default:
		return status + stoppedSuffix
	}
}
