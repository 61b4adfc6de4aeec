package radio

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
)

// BlueZPower reads the Powered property of a BlueZ adapter over D-Bus
type BlueZPower struct {
	path    dbus.ObjectPath
	connect func() (*dbus.Conn, error)
}

// NewBlueZPower checks the adapter with the given id, e.g. "hci0"
func NewBlueZPower(adapterID string) *BlueZPower {
	return &BlueZPower{
		path:    dbus.ObjectPath("/org/bluez/" + adapterID),
		connect: dbus.SystemBus,
	}
}

func (b *BlueZPower) Powered() (bool, error) {
	conn, err := b.connect()
	if err != nil {
		return false, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	v, err := conn.Object(bluezService, b.path).GetProperty(bluezAdapterIface + ".Powered")
	if err != nil {
		return false, fmt.Errorf("failed to read %s power state: %w", b.path, err)
	}

	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected Powered value %v", v.Value())
	}
	return on, nil
}
