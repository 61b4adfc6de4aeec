// Package radio drives the host Bluetooth adapter through
// tinygo.org/x/bluetooth and hands advertisements to the scan session.
package radio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/freeclip/session"
	"github.com/mjasion/balena-home/freeclip/types"
)

// Scan failure codes reported through Handler.OnFailure
const (
	FailureAlreadyStarted = 1
	FailureRegistration   = 2
	FailureInternal       = 3
	FailureUnsupported    = 4
)

const stopTimeout = 2 * time.Second

// PowerChecker reports whether the adapter is switched on
type PowerChecker interface {
	Powered() (bool, error)
}

// scanner is the subset of *bluetooth.Adapter the radio uses
type scanner interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Adapter implements session.Radio on top of a tinygo bluetooth adapter
type Adapter struct {
	scanner scanner
	power   PowerChecker
	logger  *zap.Logger

	enableOnce sync.Once
	enableErr  error

	mu   sync.Mutex
	done chan struct{} // closed when the running scan returns, nil while idle
}

// New wraps adapter. power may be nil when the platform has no way to query it.
func New(adapter *bluetooth.Adapter, power PowerChecker, logger *zap.Logger) *Adapter {
	return newAdapter(adapter, power, logger)
}

func newAdapter(s scanner, power PowerChecker, logger *zap.Logger) *Adapter {
	return &Adapter{scanner: s, power: power, logger: logger}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		a.logger.Info("initializing BLE adapter")
		if err := a.scanner.Enable(); err != nil {
			a.enableErr = fmt.Errorf("failed to enable BLE adapter: %w", err)
			return
		}
		a.logger.Info("BLE adapter initialized successfully")
	})
	return a.enableErr
}

// Enabled reports whether the adapter can scan right now
func (a *Adapter) Enabled() bool {
	if err := a.enable(); err != nil {
		a.logger.Warn("bluetooth adapter unavailable", zap.Error(err))
		return false
	}
	if a.power == nil {
		return true
	}

	on, err := a.power.Powered()
	if err != nil {
		a.logger.Warn("failed to read adapter power state", zap.Error(err))
		return false
	}
	return on
}

// StartScan starts a passive scan in the background. Results and failures
// are delivered to h from the scanning goroutine.
func (a *Adapter) StartScan(h session.Handler) error {
	if err := a.enable(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrRadioDisabled, err)
	}

	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		a.logger.Warn("scan already running")
		h.OnFailure(FailureAlreadyStarted)
		return nil
	}
	done := make(chan struct{})
	a.done = done
	a.mu.Unlock()

	a.logger.Info("starting BLE scan")
	go func() {
		defer func() {
			a.mu.Lock()
			if a.done == done {
				a.done = nil
			}
			a.mu.Unlock()
			close(done)
		}()

		err := a.scanner.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			h.OnResult(toFrame(result.Address.String(), result.RSSI, result.AdvertisementPayload))
		})
		if err != nil {
			a.logger.Error("BLE scan failed", zap.Error(err))
			h.OnFailure(failureCode(err))
		}
	}()

	return nil
}

// StopScan stops the running scan and waits for the scanning goroutine to
// return. Stopping an idle adapter is a no-op.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}

	a.logger.Info("stopping BLE scan")
	deadline := time.After(stopTimeout)
	for {
		// the scan goroutine may not have entered Scan yet, so retry until it has
		err := a.scanner.StopScan()
		select {
		case <-done:
			return nil
		case <-deadline:
			if err != nil {
				return fmt.Errorf("failed to stop BLE scan: %w", err)
			}
			return fmt.Errorf("BLE scan did not stop within %s", stopTimeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// failureCode maps a scan error onto the codes the session displays
func failureCode(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already"):
		return FailureAlreadyStarted
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return FailureUnsupported
	default:
		return FailureInternal
	}
}

func toFrame(address string, rssi int16, adv advertisement) types.Frame {
	frame := types.Frame{
		Address:    strings.ToUpper(address),
		RSSI:       rssi,
		ReceivedAt: time.Now(),
	}
	if adv != nil {
		frame.Name = adv.LocalName()
		frame.Payload = Payload(adv)
	}
	return frame
}
