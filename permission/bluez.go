package permission

import (
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const bluezService = "org.bluez"

// BlueZ grants the permission set when the BlueZ daemon owns its name on the
// system bus. There is no interactive grant on Linux, so Request re-checks.
type BlueZ struct {
	logger  *zap.Logger
	connect func() (*dbus.Conn, error)
}

// NewBlueZ returns a checker using the shared system bus connection
func NewBlueZ(logger *zap.Logger) *BlueZ {
	return &BlueZ{logger: logger, connect: dbus.SystemBus}
}

func (b *BlueZ) Check(Set) bool {
	conn, err := b.connect()
	if err != nil {
		b.logger.Warn("failed to connect to system bus", zap.Error(err))
		return false
	}

	var owner string
	obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
	if err := obj.Call("org.freedesktop.DBus.GetNameOwner", 0, bluezService).Store(&owner); err != nil {
		b.logger.Warn("bluez is not available", zap.Error(err))
		return false
	}

	b.logger.Debug("bluez available", zap.String("owner", owner))
	return true
}

func (b *BlueZ) Request(set Set) map[Permission]bool {
	granted := b.Check(set)
	results := make(map[Permission]bool, len(set))
	for _, p := range set {
		results[p] = granted
	}
	return results
}
