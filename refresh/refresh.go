// Package refresh periodically restarts the scan when nobody is around to tap.
package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/session"
)

// Tapper is the controller command the scheduler issues
type Tapper interface {
	Tap(ctx context.Context) error
}

// Scheduler taps the controller on a cron schedule
type Scheduler struct {
	cron   *cron.Cron
	tapper Tapper
	logger *zap.Logger
	ctx    context.Context
}

// New parses schedule (standard cron syntax or descriptors such as
// "@every 5m") and prepares the scheduler; nothing runs until Start.
func New(ctx context.Context, schedule string, tapper Tapper, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		tapper: tapper,
		logger: logger,
		ctx:    ctx,
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("refresh scheduler started")
}

// Stop stops the schedule and waits for a running tap to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("refresh scheduler stopped")
}

func (s *Scheduler) tick() {
	err := s.tapper.Tap(s.ctx)
	switch {
	case err == nil:
		s.logger.Debug("scheduled refresh")
	case errors.Is(err, session.ErrRadioDisabled), errors.Is(err, session.ErrPermissionDenied):
		s.logger.Warn("scheduled refresh skipped", zap.Error(err))
	case errors.Is(err, context.Canceled), errors.Is(err, session.ErrClosed):
		s.logger.Debug("scheduled refresh after shutdown", zap.Error(err))
	default:
		s.logger.Error("scheduled refresh failed", zap.Error(err))
	}
}
