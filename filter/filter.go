package filter

import (
	"strings"

	"github.com/mjasion/balena-home/freeclip/types"
)

// DefaultDeviceName is the advertised name prefix of the FreeClip case
const DefaultDeviceName = "Huawei FreeClip"

// Filter decides whether an advertisement belongs to the tracked device
type Filter struct {
	target string // lower-cased name substring
}

// New creates a filter matching devices whose name contains deviceName
func New(deviceName string) *Filter {
	return &Filter{target: strings.ToLower(strings.TrimSpace(deviceName))}
}

// Accept reports whether the frame belongs to the tracked device.
// With a paired address only that exact address is accepted, otherwise any
// device whose advertised name contains the target name (ignoring case).
func (f *Filter) Accept(frame types.Frame, paired string) bool {
	if paired != "" {
		return frame.Address == paired
	}
	if !frame.HasName() || f.target == "" {
		return false
	}
	return strings.Contains(strings.ToLower(frame.Name), f.target)
}
