package decoder

import (
	"errors"
	"fmt"
	"strings"
)

// Battery byte offsets inside the FreeClip advertisement record
const (
	CaseOffset  = 20
	LeftOffset  = 21
	RightOffset = 22

	// MinPayloadLength is the shortest record that still carries all three battery bytes
	MinPayloadLength = RightOffset + 1
)

var (
	// ErrMalformedPayload is returned when the record is too short to hold the battery bytes
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrSentinelReading is returned for the all-zero triple the case broadcasts between updates
	ErrSentinelReading = errors.New("sentinel reading")
)

// Cell is the state of one battery (case or earbud)
type Cell struct {
	Percent  int  `json:"percent"`
	Charging bool `json:"charging"`
}

// BatteryReading holds the decoded battery state of the case and both earbuds
type BatteryReading struct {
	Case  Cell `json:"case"`
	Left  Cell `json:"left"`
	Right Cell `json:"right"`
}

// Decode extracts the battery triple from a raw advertisement record.
//
// Each battery byte is a signed 8-bit value. A negative value means the part
// is charging and the level is value+128; otherwise the value is the level.
// A triple whose levels are all zero is a transient broadcast and yields
// ErrSentinelReading instead of a reading.
func Decode(payload []byte) (BatteryReading, error) {
	if len(payload) < MinPayloadLength {
		return BatteryReading{}, fmt.Errorf("%w: expected at least %d bytes, got %d",
			ErrMalformedPayload, MinPayloadLength, len(payload))
	}

	reading := BatteryReading{
		Case:  decodeCell(payload[CaseOffset]),
		Left:  decodeCell(payload[LeftOffset]),
		Right: decodeCell(payload[RightOffset]),
	}

	if reading.Case.Percent == 0 && reading.Left.Percent == 0 && reading.Right.Percent == 0 {
		return BatteryReading{}, ErrSentinelReading
	}

	return reading, nil
}

func decodeCell(b byte) Cell {
	v := int(int8(b))
	if v < 0 {
		return Cell{Percent: v + 128, Charging: true}
	}
	return Cell{Percent: v}
}

// HexDump renders the payload as space separated lower-case hex bytes
func HexDump(payload []byte) string {
	parts := make([]string, len(payload))
	for i, b := range payload {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}
