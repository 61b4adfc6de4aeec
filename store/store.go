// Package store persists small key-value settings, such as the paired
// device address, across restarts.
package store

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Driver names accepted by Open
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Store is a durable string key-value store
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	io.Closer
}

// Open returns the store for the given driver, backed by path
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverFile, "":
		return NewFile(path)
	case DriverSQLite:
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
