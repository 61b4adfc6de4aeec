// Package permission decides which platform permissions a scan needs and
// whether they are granted.
package permission

// Permission names a platform capability required to scan
type Permission string

const (
	Bluetooth          Permission = "BLUETOOTH"
	BluetoothAdmin     Permission = "BLUETOOTH_ADMIN"
	BluetoothScan      Permission = "BLUETOOTH_SCAN"
	BluetoothConnect   Permission = "BLUETOOTH_CONNECT"
	AccessFineLocation Permission = "ACCESS_FINE_LOCATION"
)

// Platform levels at which additional permissions become mandatory
const (
	LevelFineLocation = 29
	LevelScanConnect  = 31
)

// Set is an ordered list of permissions
type Set []Permission

// Required returns the permissions needed to scan on the given platform level
func Required(level int) Set {
	set := Set{Bluetooth, BluetoothAdmin}
	if level >= LevelScanConnect {
		set = append(set, BluetoothScan, BluetoothConnect)
	}
	if level >= LevelFineLocation {
		set = append(set, AccessFineLocation)
	}
	return set
}

// AllGranted reports whether every permission of the set is granted in results
func (s Set) AllGranted(results map[Permission]bool) bool {
	for _, p := range s {
		if !results[p] {
			return false
		}
	}
	return true
}

// Static answers every check with a fixed result
type Static struct {
	Granted bool
}

func (s Static) Check(Set) bool {
	return s.Granted
}

func (s Static) Request(set Set) map[Permission]bool {
	results := make(map[Permission]bool, len(set))
	for _, p := range set {
		results[p] = s.Granted
	}
	return results
}
