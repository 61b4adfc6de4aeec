package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/session"
)

// Client commands
const (
	CommandTap       = "tap"
	CommandLongPress = "longPress"
	CommandConfirm   = "confirm"
	CommandCancel    = "cancel"
	CommandStop      = "stop"
)

const commandTimeout = 10 * time.Second

// Command is a message received from a client
type Command struct {
	Type     string `json:"type"`
	PromptID uint64 `json:"promptId,omitempty"`
}

// Commander is the controller surface the server drives
type Commander interface {
	Tap(ctx context.Context) error
	LongPress(ctx context.Context) (bool, error)
	Confirm(ctx context.Context, id uint64) error
	Cancel(ctx context.Context, id uint64) error
	StopManual(ctx context.Context) error
	Snapshot() session.Snapshot
}

type Server struct {
	ctrl     Commander
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(ctrl Commander, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		ctrl:   ctrl,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler serves /ws for the event stream and /status for a JSON snapshot
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/status", otelhttp.NewHandler(http.HandlerFunc(s.serveStatus), "status"))
	return mux
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("websocket server failed: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shutdown websocket server: %w", err)
	}
	return nil
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ctrl.Snapshot()); err != nil {
		s.logger.Warn("failed to encode status", zap.Error(err))
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.hub.AddClient(conn)
	defer s.hub.RemoveClient(conn)

	snap := s.ctrl.Snapshot()
	if err := s.hub.Send(conn, Event{Type: EventStatus, Payload: snap}); err != nil {
		return
	}
	if snap.Prompt != nil {
		if err := s.hub.Send(conn, Event{Type: EventPrompt, Payload: newPromptPayload(*snap.Prompt)}); err != nil {
			return
		}
	}

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				_ = s.hub.Send(conn, Event{Type: EventError, Payload: ErrorPayload{Message: "malformed command"}})
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		if err := s.dispatch(r.Context(), cmd); err != nil {
			s.logger.Info("websocket command failed", zap.String("command", cmd.Type), zap.Error(err))
			_ = s.hub.Send(conn, Event{Type: EventError, Payload: ErrorPayload{Command: cmd.Type, Message: err.Error()}})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd.Type {
	case CommandTap:
		return s.ctrl.Tap(ctx)
	case CommandLongPress:
		_, err := s.ctrl.LongPress(ctx)
		return err
	case CommandConfirm:
		return s.ctrl.Confirm(ctx, cmd.PromptID)
	case CommandCancel:
		return s.ctrl.Cancel(ctx, cmd.PromptID)
	case CommandStop:
		return s.ctrl.StopManual(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}
