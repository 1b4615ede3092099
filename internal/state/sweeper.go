package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper deletes review rows past their retention windows: terminal rows
// by completed_at, and rows abandoned mid-flight (a worker that never came
// back) by created_at with a longer grace period. It runs on a ticker until
// its context is cancelled.
type Sweeper struct {
	Store    *Store
	Window   time.Duration
	Interval time.Duration
	// StuckWindow bounds non-terminal rows; zero means four times Window.
	StuckWindow time.Duration
	Log         *slog.Logger
}

// Run sweeps once immediately, then on every tick.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil {
		s.Log.Error("retention sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.Log.Error("retention sweep failed", "error", err)
			}
		}
	}
}

// cutoffs resolves the deletion horizons for one sweep pass.
func (s *Sweeper) cutoffs(now time.Time) (terminal, stuck time.Time) {
	stuckWindow := s.StuckWindow
	if stuckWindow <= 0 {
		stuckWindow = 4 * s.Window
	}
	return now.Add(-s.Window), now.Add(-stuckWindow)
}

func (s *Sweeper) sweep(ctx context.Context) error {
	terminal, stuck := s.cutoffs(time.Now().UTC())

	res, err := s.Store.db.ExecContext(ctx,
		`DELETE FROM review_states
		 WHERE completed_at IS NOT NULL AND completed_at < $1`, terminal)
	if err != nil {
		return fmt.Errorf("delete expired states: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.Log.Info("retention sweep removed rows", "rows", n, "cutoff", terminal)
	}

	// PENDING/PROCESSING rows whose worker vanished would otherwise sit
	// forever; a fresh submit for the same change request recreates them.
	res, err = s.Store.db.ExecContext(ctx,
		`DELETE FROM review_states
		 WHERE completed_at IS NULL AND created_at < $1`, stuck)
	if err != nil {
		return fmt.Errorf("delete stuck states: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.Log.Warn("retention sweep removed stuck rows", "rows", n, "cutoff", stuck)
	}
	return nil
}
