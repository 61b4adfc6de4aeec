package radio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/freeclip/session"
	"github.com/mjasion/balena-home/freeclip/types"
)

type fakeScanner struct {
	enableErr error
	scanErr   error

	mu      sync.Mutex
	enables int
	stop    chan struct{}
	active  bool
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{stop: make(chan struct{})}
}

func (f *fakeScanner) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	return f.enableErr
}

func (f *fakeScanner) Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	f.mu.Lock()
	f.active = true
	stop := f.stop
	f.mu.Unlock()

	<-stop
	return nil
}

func (f *fakeScanner) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return errors.New("not calling Scan function")
	}
	f.active = false
	close(f.stop)
	f.stop = make(chan struct{})
	return nil
}

type fakeHandler struct {
	mu       sync.Mutex
	frames   []types.Frame
	failures []int
}

func (h *fakeHandler) OnResult(frame types.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
}

func (h *fakeHandler) OnFailure(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, code)
}

func (h *fakeHandler) failureCodes() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.failures...)
}

type fakePower struct {
	on  bool
	err error
}

func (p fakePower) Powered() (bool, error) {
	return p.on, p.err
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name      string
		enableErr error
		power     PowerChecker
		want      bool
	}{
		{name: "no power checker", want: true},
		{name: "powered", power: fakePower{on: true}, want: true},
		{name: "powered off", power: fakePower{on: false}, want: false},
		{name: "power check fails", power: fakePower{err: errors.New("no bus")}, want: false},
		{name: "enable fails", enableErr: errors.New("no adapter"), power: fakePower{on: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeScanner()
			s.enableErr = tt.enableErr
			a := newAdapter(s, tt.power, zap.NewNop())

			if got := a.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
			a.Enabled()
			if s.enables != 1 {
				t.Errorf("expected adapter to be enabled once, got %d", s.enables)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s := newFakeScanner()
	a := newAdapter(s, nil, zap.NewNop())
	h := &fakeHandler{}

	if err := a.StartScan(h); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	// a second start while running reports a failure
	if err := a.StartScan(h); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if codes := h.failureCodes(); len(codes) != 1 || codes[0] != FailureAlreadyStarted {
		t.Errorf("expected already started failure, got %v", codes)
	}

	if err := a.StopScan(); err != nil {
		t.Fatalf("StopScan() error = %v", err)
	}

	// idle stop is a no-op
	if err := a.StopScan(); err != nil {
		t.Errorf("StopScan() on idle adapter error = %v", err)
	}

	// the adapter can scan again
	if err := a.StartScan(h); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if err := a.StopScan(); err != nil {
		t.Fatalf("StopScan() error = %v", err)
	}
}

func TestStartScan_EnableFails(t *testing.T) {
	s := newFakeScanner()
	s.enableErr = errors.New("no adapter")
	a := newAdapter(s, nil, zap.NewNop())

	err := a.StartScan(&fakeHandler{})
	if !errors.Is(err, session.ErrRadioDisabled) {
		t.Errorf("expected ErrRadioDisabled, got %v", err)
	}
}

func TestStartScan_ScanFails(t *testing.T) {
	s := newFakeScanner()
	s.scanErr = errors.New("org.bluez.Error.InProgress: operation already in progress")
	a := newAdapter(s, nil, zap.NewNop())
	h := &fakeHandler{}

	if err := a.StartScan(h); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.failureCodes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if codes := h.failureCodes(); len(codes) != 1 || codes[0] != FailureAlreadyStarted {
		t.Errorf("expected already started failure, got %v", codes)
	}
}

func TestFailureCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: errors.New("scan already in progress"), want: FailureAlreadyStarted},
		{err: errors.New("operation not supported"), want: FailureUnsupported},
		{err: errors.New("dbus: connection closed"), want: FailureInternal},
	}

	for _, tt := range tests {
		if got := failureCode(tt.err); got != tt.want {
			t.Errorf("failureCode(%q) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestToFrame(t *testing.T) {
	adv := fakeAdvertisement{name: "Huawei FreeClip", raw: []byte{0x02, 0x01, 0x06}}

	frame := toFrame("aa:bb:cc:dd:ee:ff", -58, adv)

	if frame.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("expected upper-case address, got %q", frame.Address)
	}
	if frame.Name != "Huawei FreeClip" || frame.RSSI != -58 {
		t.Errorf("unexpected frame %+v", frame)
	}
	if len(frame.Payload) != 3 {
		t.Errorf("unexpected payload %x", frame.Payload)
	}
	if frame.ReceivedAt.IsZero() {
		t.Error("expected receive time to be set")
	}

	if frame := toFrame("11:22:33:44:55:66", -70, nil); frame.Name != "" || frame.Payload != nil {
		t.Errorf("unexpected frame without advertisement %+v", frame)
	}
}
