package pairing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DeviceKey is the persistence key of the paired hardware address
const DeviceKey = "deviceMac"

var (
	// ErrAlreadyPaired is returned when confirming a pairing while another device is paired
	ErrAlreadyPaired = errors.New("a device is already paired")

	// ErrNoOpenPrompt is returned when a confirm or cancel does not match the open prompt
	ErrNoOpenPrompt = errors.New("no matching prompt is open")
)

// Store persists the paired device across restarts
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// PromptKind identifies what a confirmation prompt asks the user
type PromptKind int

const (
	// PromptPair asks whether a sighted device should become the tracked device
	PromptPair PromptKind = iota + 1
	// PromptUnpair asks whether the tracked device should be forgotten
	PromptUnpair
)

func (k PromptKind) String() string {
	switch k {
	case PromptPair:
		return "pair"
	case PromptUnpair:
		return "unpair"
	default:
		return "unknown"
	}
}

// PromptRequest asks the UI to show a confirmation dialog
type PromptRequest struct {
	ID      uint64     `json:"id"`
	Kind    PromptKind `json:"kind"`
	Address string     `json:"address"`
	Name    string     `json:"name,omitempty"`
}

// Message is the dialog text for the prompt
func (p PromptRequest) Message() string {
	if p.Kind == PromptUnpair {
		return fmt.Sprintf("Unpair %s?", p.Address)
	}
	return fmt.Sprintf("Pair %s as your device? Long-press anywhere on the main screen to unpair later.", p.Address)
}

// State holds the paired address and the lifecycle of the confirmation prompt.
// It is not safe for concurrent use; the session controller owns it.
type State struct {
	store  Store
	logger *zap.Logger

	paired string
	prompt *PromptRequest // nil while no prompt is open
	nextID uint64
}

// Load restores the paired address from the store
func Load(ctx context.Context, store Store, logger *zap.Logger) (*State, error) {
	paired, ok, err := store.Get(ctx, DeviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load paired device: %w", err)
	}
	if !ok {
		paired = ""
	}

	if paired != "" {
		logger.Info("restored paired device", zap.String("mac", paired))
	} else {
		logger.Info("no paired device, matching by name")
	}

	return &State{
		store:  store,
		logger: logger,
		paired: paired,
	}, nil
}

// Paired returns the paired address, empty when unpaired
func (s *State) Paired() string {
	return s.paired
}

// IsPaired reports whether a device is paired
func (s *State) IsPaired() bool {
	return s.paired != ""
}

// OpenPrompt returns the currently open prompt, if any
func (s *State) OpenPrompt() (PromptRequest, bool) {
	if s.prompt == nil {
		return PromptRequest{}, false
	}
	return *s.prompt, true
}

// RequestPromptIfNeeded opens a pairing prompt for the candidate when no
// device is paired and no prompt is open. The prompt stays open until it is
// confirmed or cancelled.
func (s *State) RequestPromptIfNeeded(address, name string) (PromptRequest, bool) {
	if s.paired != "" || s.prompt != nil {
		return PromptRequest{}, false
	}
	return s.open(PromptPair, address, name), true
}

// RequestUnpairPrompt opens an unpair prompt when a device is paired and no
// prompt is open
func (s *State) RequestUnpairPrompt() (PromptRequest, bool) {
	if s.paired == "" || s.prompt != nil {
		return PromptRequest{}, false
	}
	return s.open(PromptUnpair, s.paired, ""), true
}

func (s *State) open(kind PromptKind, address, name string) PromptRequest {
	s.nextID++
	req := PromptRequest{ID: s.nextID, Kind: kind, Address: address, Name: name}
	s.prompt = &req
	s.logger.Debug("prompt opened",
		zap.Uint64("prompt_id", req.ID),
		zap.Stringer("kind", kind),
		zap.String("mac", address),
	)
	return req
}

// Resolve applies the user's answer to the open prompt with the given ID
func (s *State) Resolve(ctx context.Context, id uint64, confirmed bool) error {
	if s.prompt == nil || s.prompt.ID != id {
		return ErrNoOpenPrompt
	}
	req := *s.prompt

	if !confirmed {
		if req.Kind == PromptPair {
			s.CancelPairing()
		} else {
			s.closePrompt()
		}
		return nil
	}

	if req.Kind == PromptUnpair {
		return s.Unpair(ctx)
	}
	return s.ConfirmPairing(ctx, req.Address)
}

// ConfirmPairing makes address the tracked device. The address is persisted
// before it becomes visible so that the next filtered frame sees it.
func (s *State) ConfirmPairing(ctx context.Context, address string) error {
	if address == "" {
		return fmt.Errorf("cannot pair an empty address")
	}
	if s.paired != "" && s.paired != address {
		s.closePrompt()
		return fmt.Errorf("%w: %s", ErrAlreadyPaired, s.paired)
	}

	if err := s.store.Set(ctx, DeviceKey, address); err != nil {
		return fmt.Errorf("failed to persist paired device: %w", err)
	}

	s.paired = address
	s.closePrompt()
	s.logger.Info("device paired", zap.String("mac", address))
	return nil
}

// CancelPairing closes the prompt and leaves the device unpaired
func (s *State) CancelPairing() {
	s.closePrompt()
	s.logger.Info("pairing declined")
}

// Unpair forgets the paired device
func (s *State) Unpair(ctx context.Context) error {
	if err := s.store.Delete(ctx, DeviceKey); err != nil {
		return fmt.Errorf("failed to clear paired device: %w", err)
	}

	previous := s.paired
	s.paired = ""
	s.closePrompt()
	s.logger.Info("device unpaired", zap.String("mac", previous))
	return nil
}

func (s *State) closePrompt() {
	s.prompt = nil
}
