// Package session runs the scan lifecycle: it starts and stops the radio,
// filters and decodes advertisements, composes the status text and drives
// the pairing prompt.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/decoder"
	"github.com/mjasion/balena-home/freeclip/filter"
	"github.com/mjasion/balena-home/freeclip/pairing"
	"github.com/mjasion/balena-home/freeclip/permission"
	"github.com/mjasion/balena-home/freeclip/types"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultQueueSize = 256

	commandQueueSize = 16
)

var (
	// ErrRadioDisabled is returned when a scan is requested with the radio off
	ErrRadioDisabled = errors.New("bluetooth radio is disabled")

	// ErrPermissionDenied is returned when the required permissions were not granted
	ErrPermissionDenied = errors.New("required permissions not granted")

	// ErrClosed is returned by commands issued after Run has returned
	ErrClosed = errors.New("session controller stopped")
)

// State of the scan session
type State int

const (
	Idle State = iota
	Scanning
	StoppedTimeout
	StoppedManual
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case StoppedTimeout:
		return "stopped_timeout"
	case StoppedManual:
		return "stopped_manual"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handler receives radio callbacks. Implementations must not block.
type Handler interface {
	OnResult(frame types.Frame)
	OnFailure(code int)
}

// Radio is the BLE scanner the controller drives
type Radio interface {
	Enabled() bool
	StartScan(h Handler) error
	StopScan() error
}

// Permissions checks and requests the permissions a scan needs
type Permissions interface {
	Check(set permission.Set) bool
	Request(set permission.Set) map[permission.Permission]bool
}

// Listener is notified on the controller goroutine. Implementations must not
// call back into the controller synchronously.
type Listener interface {
	StatusChanged(snap Snapshot)
	PromptRequested(req pairing.PromptRequest)
}

// ReadingSink receives every decoded reading, e.g. the export buffer
type ReadingSink interface {
	Add(r *types.Reading)
}

// Snapshot is a copy of the controller state safe to hand to other goroutines
type Snapshot struct {
	State    State                   `json:"state"`
	Status   string                  `json:"status"`
	Paired   string                  `json:"paired,omitempty"`
	Prompt   *pairing.PromptRequest  `json:"prompt,omitempty"`
	Reading  *decoder.BatteryReading `json:"reading,omitempty"`
	LastSeen time.Time               `json:"lastSeen,omitempty"`
	Dropped  uint64                  `json:"dropped"`
}

type Options struct {
	DeviceName  string
	Timeout     time.Duration
	QueueSize   int
	Permissions Permissions
	Required    permission.Set
	Sink        ReadingSink
}

type instruments struct {
	frames   metric.Int64Counter
	readings metric.Int64Counter
	scans    metric.Int64Counter
}

func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil || c == nil {
			logger.Warn("failed to create counter, using no-op", zap.String("counter", name), zap.Error(err))
			return noop.Int64Counter{}
		}
		return c
	}

	return instruments{
		frames:   counter("freeclip.session.frames", "Advertisement frames handled, by outcome"),
		readings: counter("freeclip.session.readings", "Battery readings decoded"),
		scans:    counter("freeclip.session.scans", "Scan sessions started"),
	}
}

// Controller owns the scan session. All state changes happen on the Run
// goroutine; the exported methods enqueue work for it.
type Controller struct {
	radio   Radio
	pairing *pairing.State
	filter  *filter.Filter
	logger  *zap.Logger
	opts    Options
	instr   instruments

	frames   chan types.Frame
	commands chan func()
	done     chan struct{}
	runOnce  sync.Once

	// owned by the Run goroutine
	state      State
	status     string
	reading    *decoder.BatteryReading
	lastSeen   time.Time
	generation uint64
	timer      *time.Timer

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []Listener
	dropped   uint64
}

// New creates a controller. Run must be started before any command is issued.
func New(radio Radio, state *pairing.State, logger *zap.Logger, opts Options) *Controller {
	if opts.DeviceName == "" {
		opts.DeviceName = filter.DefaultDeviceName
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	c := &Controller{
		radio:    radio,
		pairing:  state,
		filter:   filter.New(opts.DeviceName),
		logger:   logger,
		opts:     opts,
		instr:    newInstruments(otel.Meter("github.com/mjasion/balena-home/freeclip/session"), logger),
		frames:   make(chan types.Frame, opts.QueueSize),
		commands: make(chan func(), commandQueueSize),
		done:     make(chan struct{}),
		state:    Idle,
		status:   initialMessage,
	}
	c.snapshot = c.buildSnapshot()
	return c
}

// Subscribe registers a listener for status and prompt notifications
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Snapshot returns the last published state
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Done is closed when Run has returned
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run processes events until ctx is cancelled. An active scan is stopped on
// return.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.runOnce.Do(func() { first = true })
	if !first {
		return fmt.Errorf("controller is already running")
	}

	defer close(c.done)
	defer c.shutdown()

	c.logger.Info("session controller started",
		zap.String("device_name", c.opts.DeviceName),
		zap.Duration("timeout", c.opts.Timeout),
		zap.String("mac", c.pairing.Paired()),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.commands:
			fn()
		case frame := <-c.frames:
			c.handleFrame(ctx, frame)
		}
	}
}

func (c *Controller) shutdown() {
	if c.state == Scanning {
		c.stop(StoppedManual)
	}
	c.logger.Info("session controller stopped")
}

// OnResult enqueues an advertisement without blocking. A full queue drops
// the frame.
func (c *Controller) OnResult(frame types.Frame) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.frames <- frame:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.instr.frames.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", "queue_full")))
		c.logger.Debug("event queue full, dropping frame", zap.String("mac", frame.Address))
	}
}

// OnFailure reports a radio scan failure
func (c *Controller) OnFailure(code int) {
	select {
	case c.commands <- func() { c.handleFailure(code) }:
	case <-c.done:
	default:
		c.logger.Error("event queue full, dropping scan failure", zap.Int("code", code))
	}
}

// Start begins a scan session. It is a no-op while already scanning.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, c.start)
}

// StopManual ends the scan session at the user's request
func (c *Controller) StopManual(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.stop(StoppedManual)
		return nil
	})
}

// Tap retries the scan. It is ignored while scanning and checks permissions
// before starting.
func (c *Controller) Tap(ctx context.Context) error {
	if c.Snapshot().State == Scanning {
		return nil
	}

	if perms := c.opts.Permissions; perms != nil && !perms.Check(c.opts.Required) {
		results := perms.Request(c.opts.Required)
		if !c.opts.Required.AllGranted(results) {
			c.logger.Error("required permissions not granted", zap.Any("results", results))
			if err := c.do(ctx, func() error {
				c.setStatus(permissionDeniedMessage)
				return nil
			}); err != nil {
				return err
			}
			return ErrPermissionDenied
		}
	}

	return c.Start(ctx)
}

// LongPress opens the unpair prompt when a device is paired. It reports
// whether a prompt was opened.
func (c *Controller) LongPress(ctx context.Context) (bool, error) {
	opened := false
	err := c.do(ctx, func() error {
		req, ok := c.pairing.RequestUnpairPrompt()
		if !ok {
			return nil
		}
		opened = true
		c.publish()
		c.notifyPrompt(req)
		return nil
	})
	return opened, err
}

// Confirm accepts the open prompt with the given ID
func (c *Controller) Confirm(ctx context.Context, id uint64) error {
	return c.resolve(ctx, id, true)
}

// Cancel declines the open prompt with the given ID
func (c *Controller) Cancel(ctx context.Context, id uint64) error {
	return c.resolve(ctx, id, false)
}

func (c *Controller) resolve(ctx context.Context, id uint64, confirmed bool) error {
	return c.do(ctx, func() error {
		err := c.pairing.Resolve(ctx, id, confirmed)
		// re-announce so listeners see the prompt close and the paired address
		c.setStatus(c.status)
		return err
	})
}

// do runs fn on the controller goroutine and waits for its result
func (c *Controller) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.commands <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) start() error {
	if c.state == Scanning {
		return nil
	}

	if !c.radio.Enabled() {
		c.logger.Warn("bluetooth is disabled")
		c.setStatus(radioDisabledMessage)
		return ErrRadioDisabled
	}

	previous := c.state
	c.generation++
	c.state = Scanning
	c.reading = nil
	c.lastSeen = time.Time{}

	if err := c.radio.StartScan(c); err != nil {
		c.state = previous
		if errors.Is(err, ErrRadioDisabled) {
			c.setStatus(radioDisabledMessage)
			return err
		}
		c.logger.Error("failed to start scan", zap.Error(err))
		c.setStatus(fmt.Sprintf("Bluetooth scan failed: %v", err))
		return fmt.Errorf("failed to start scan: %w", err)
	}

	c.armTimer()
	c.instr.scans.Add(context.Background(), 1)
	c.logger.Info("scan started",
		zap.String("device_name", c.opts.DeviceName),
		zap.Uint64("generation", c.generation),
	)
	c.setStatus(searchingMessage(c.opts.DeviceName))
	return nil
}

func (c *Controller) armTimer() {
	c.stopTimer()
	gen := c.generation
	c.timer = time.AfterFunc(c.opts.Timeout, func() {
		select {
		case c.commands <- func() { c.handleTimeout(gen) }:
		case <-c.done:
		}
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) handleTimeout(gen uint64) {
	if gen != c.generation || c.state != Scanning {
		c.logger.Debug("ignoring stale timeout", zap.Uint64("generation", gen))
		return
	}
	c.logger.Info("scan timed out", zap.Duration("timeout", c.opts.Timeout))
	c.stop(StoppedTimeout)
}

// stop leaves Scanning with the given reason. When already stopped only the
// status text is recomputed.
func (c *Controller) stop(reason State) {
	switch c.state {
	case Idle:
		return
	case Scanning:
		c.stopTimer()
		if err := c.radio.StopScan(); err != nil {
			c.logger.Warn("failed to stop scan", zap.Error(err))
		}
		c.state = reason
		c.logger.Info("scan stopped", zap.Stringer("state", reason))
	}

	c.setStatus(stoppedStatus(c.status, c.opts.DeviceName))
}

func (c *Controller) handleFailure(code int) {
	c.logger.Error("bluetooth scan failed", zap.Int("code", code))
	c.setStatus(scanFailedMessage(code))
}

func (c *Controller) handleFrame(ctx context.Context, frame types.Frame) {
	if c.state != Scanning {
		c.countFrame(ctx, "not_scanning")
		return
	}

	if !c.filter.Accept(frame, c.pairing.Paired()) {
		c.countFrame(ctx, "filtered")
		return
	}

	battery, err := decoder.Decode(frame.Payload)
	if err != nil {
		c.logger.Debug("ignoring advertisement",
			zap.String("mac", frame.Address),
			zap.String("device_name", frame.Name),
			zap.Error(err),
		)
		if errors.Is(err, decoder.ErrSentinelReading) {
			c.countFrame(ctx, "sentinel")
		} else {
			c.countFrame(ctx, "malformed")
		}
		return
	}

	c.countFrame(ctx, "decoded")
	c.instr.readings.Add(ctx, 1)

	reading := types.NewReading(frame, battery)
	c.reading = &battery
	c.lastSeen = reading.Timestamp
	if c.opts.Sink != nil {
		c.opts.Sink.Add(reading)
	}

	c.logger.Debug("battery reading",
		zap.String("mac", frame.Address),
		zap.Int("case", battery.Case.Percent),
		zap.Int("left", battery.Left.Percent),
		zap.Int("right", battery.Right.Percent),
	)

	c.setStatus(FormatReading(frame, battery))

	if req, ok := c.pairing.RequestPromptIfNeeded(frame.Address, frame.Name); ok {
		c.publish()
		c.notifyPrompt(req)
	}
}

func (c *Controller) countFrame(ctx context.Context, outcome string) {
	c.instr.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (c *Controller) setStatus(status string) {
	c.status = status
	snap := c.publish()
	for _, l := range c.currentListeners() {
		l.StatusChanged(snap)
	}
}

func (c *Controller) notifyPrompt(req pairing.PromptRequest) {
	for _, l := range c.currentListeners() {
		l.PromptRequested(req)
	}
}

func (c *Controller) currentListeners() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Listener(nil), c.listeners...)
}

// publish refreshes the snapshot returned by Snapshot
func (c *Controller) publish() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = c.buildSnapshot()
	return c.snapshot
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:    c.state,
		Status:   c.status,
		Paired:   c.pairing.Paired(),
		LastSeen: c.lastSeen,
		Dropped:  c.dropped,
	}
	if req, ok := c.pairing.OpenPrompt(); ok {
		snap.Prompt = &req
	}
	if c.reading != nil {
		r := *c.reading
		snap.Reading = &r
	}
	return snap
}
