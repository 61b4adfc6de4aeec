package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/pairing"
	"github.com/mjasion/balena-home/freeclip/session"
)

type fakeCommander struct {
	mu       sync.Mutex
	calls    []string
	promptID uint64
	err      error
	snap     session.Snapshot
}

func (f *fakeCommander) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeCommander) Tap(context.Context) error { return f.record(CommandTap) }

func (f *fakeCommander) LongPress(context.Context) (bool, error) {
	return true, f.record(CommandLongPress)
}

func (f *fakeCommander) Confirm(_ context.Context, id uint64) error {
	f.mu.Lock()
	f.promptID = id
	f.mu.Unlock()
	return f.record(CommandConfirm)
}

func (f *fakeCommander) Cancel(_ context.Context, id uint64) error {
	f.mu.Lock()
	f.promptID = id
	f.mu.Unlock()
	return f.record(CommandCancel)
}

func (f *fakeCommander) StopManual(context.Context) error { return f.record(CommandStop) }

func (f *fakeCommander) Snapshot() session.Snapshot { return f.snap }

func (f *fakeCommander) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func setup(t *testing.T, ctrl *fakeCommander) (*Hub, *websocket.Conn, *httptest.Server) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(NewServer(ctrl, hub, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return hub, conn, srv
}

func readEvent(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var ev received
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestInitialStatus(t *testing.T) {
	ctrl := &fakeCommander{snap: session.Snapshot{State: session.Scanning, Status: "Searching for Huawei FreeClip..."}}
	_, conn, _ := setup(t, ctrl)

	ev := readEvent(t, conn)
	if ev.Type != EventStatus {
		t.Fatalf("expected status event, got %q", ev.Type)
	}

	var snap struct {
		State  string `json:"state"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(ev.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != "scanning" || snap.Status != "Searching for Huawei FreeClip..." {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestInitialPrompt(t *testing.T) {
	req := pairing.PromptRequest{ID: 3, Kind: pairing.PromptPair, Address: "AA:BB:CC:DD:EE:FF"}
	ctrl := &fakeCommander{snap: session.Snapshot{Prompt: &req}}
	_, conn, _ := setup(t, ctrl)

	readEvent(t, conn)
	ev := readEvent(t, conn)
	if ev.Type != EventPrompt {
		t.Fatalf("expected prompt event, got %q", ev.Type)
	}
}

func TestCommands(t *testing.T) {
	ctrl := &fakeCommander{}
	_, conn, _ := setup(t, ctrl)
	readEvent(t, conn)

	commands := []Command{
		{Type: CommandTap},
		{Type: CommandLongPress},
		{Type: CommandStop},
		{Type: CommandCancel, PromptID: 6},
		{Type: CommandConfirm, PromptID: 7},
	}
	for _, cmd := range commands {
		if err := conn.WriteJSON(cmd); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "commands", func() bool { return len(ctrl.callList()) == len(commands) })

	want := []string{CommandTap, CommandLongPress, CommandStop, CommandCancel, CommandConfirm}
	for i, call := range ctrl.callList() {
		if call != want[i] {
			t.Errorf("call %d = %q, want %q", i, call, want[i])
		}
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.promptID != 7 {
		t.Errorf("expected prompt ID 7, got %d", ctrl.promptID)
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		message string
		ctrlErr error
		want    ErrorPayload
	}{
		{
			name:    "unknown command",
			message: `{"type":"dance"}`,
			want:    ErrorPayload{Command: "dance", Message: `unknown command "dance"`},
		},
		{
			name:    "controller error",
			message: `{"type":"confirm","promptId":1}`,
			ctrlErr: pairing.ErrNoOpenPrompt,
			want:    ErrorPayload{Command: CommandConfirm, Message: pairing.ErrNoOpenPrompt.Error()},
		},
		{
			name:    "malformed",
			message: `not json`,
			want:    ErrorPayload{Message: "malformed command"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeCommander{err: tt.ctrlErr}
			_, conn, _ := setup(t, ctrl)
			readEvent(t, conn)

			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatal(err)
			}

			ev := readEvent(t, conn)
			if ev.Type != EventError {
				t.Fatalf("expected error event, got %q", ev.Type)
			}
			var got ErrorPayload
			if err := json.Unmarshal(ev.Payload, &got); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("unexpected error payload %+v, want %+v", got, tt.want)
			}

			// the connection survives a failed command
			if err := conn.WriteJSON(Command{Type: CommandTap}); err != nil {
				t.Fatal(err)
			}
			waitFor(t, "tap", func() bool {
				calls := ctrl.callList()
				return len(calls) > 0 && calls[len(calls)-1] == CommandTap
			})
		})
	}
}

func TestBroadcast(t *testing.T) {
	ctrl := &fakeCommander{}
	hub, conn, _ := setup(t, ctrl)
	readEvent(t, conn)
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	hub.StatusChanged(session.Snapshot{State: session.StoppedTimeout, Status: "Huawei FreeClip not found, tap anywhere to retry"})
	ev := readEvent(t, conn)
	if ev.Type != EventStatus || !strings.Contains(string(ev.Payload), "stopped_timeout") {
		t.Errorf("unexpected event %s %s", ev.Type, ev.Payload)
	}

	hub.PromptRequested(pairing.PromptRequest{ID: 9, Kind: pairing.PromptUnpair, Address: "AA:BB:CC:DD:EE:FF"})
	ev = readEvent(t, conn)
	if ev.Type != EventPrompt {
		t.Fatalf("expected prompt event, got %q", ev.Type)
	}
	var prompt PromptPayload
	if err := json.Unmarshal(ev.Payload, &prompt); err != nil {
		t.Fatal(err)
	}
	if prompt.ID != 9 || prompt.Kind != "unpair" || prompt.Message != "Unpair AA:BB:CC:DD:EE:FF?" {
		t.Errorf("unexpected prompt %+v", prompt)
	}
}

func TestBroadcast_DropsClosedClients(t *testing.T) {
	hub, conn, _ := setup(t, &fakeCommander{})
	readEvent(t, conn)
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	conn.Close()
	waitFor(t, "client removal", func() bool {
		hub.StatusChanged(session.Snapshot{})
		return hub.Clients() == 0
	})
}

func TestStatusEndpoint(t *testing.T) {
	ctrl := &fakeCommander{snap: session.Snapshot{State: session.Idle, Status: "Scanning for devices...", Paired: "AA:BB:CC:DD:EE:FF"}}
	_, _, srv := setup(t, ctrl)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["state"] != "idle" || body["paired"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(&fakeCommander{}, NewHub(zap.NewNop()), zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
