// Package sweeper bounds on-disk growth by deleting room snapshots and
// assets whose last modification exceeds the configured retention.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/log"
	"github.com/inkhub/inkhub/internal/metrics"
	"github.com/inkhub/inkhub/internal/room"
	"github.com/inkhub/inkhub/internal/store"
)

// Sweeper runs the retention job. It consults the engine before deleting a
// room snapshot: files belonging to rooms with attached sessions are never
// evicted.
type Sweeper struct {
	cfg    config.Config
	store  *store.Store
	engine *room.Engine
	logger zerolog.Logger
}

// New builds a sweeper over the store and engine.
func New(cfg config.Config, st *store.Store, engine *room.Engine) *Sweeper {
	return &Sweeper{
		cfg:    cfg,
		store:  st,
		engine: engine,
		logger: log.WithComponent("sweeper"),
	}
}

// Run blocks until ctx is cancelled: one sweep after the warmup delay, then
// one per cleanup interval. It returns immediately when sweeping is
// disabled by configuration.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.CleanupEnabled {
		s.logger.Info().Str("event", "sweeper.disabled").Msg("retention sweeping disabled")
		return
	}

	select {
	case <-time.After(s.cfg.SweepWarmup):
	case <-ctx.Done():
		return
	}
	s.Sweep()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one full pass over both keyspaces. Per-file errors are
// logged and do not abort the pass.
func (s *Sweeper) Sweep() {
	now := time.Now()
	rooms, assets := 0, 0

	entries, err := s.store.ListRooms()
	if err != nil {
		s.logger.Error().Err(err).Str("event", "sweeper.rooms_list_failed").Msg("room listing failed")
	} else {
		for _, e := range entries {
			if now.Sub(e.ModTime) <= s.cfg.RoomRetention {
				continue
			}
			if !s.engine.CanEvict(e.ID) {
				s.logger.Debug().Str("room", e.ID).
					Str("event", "sweeper.room_in_use").
					Msg("room snapshot expired but sessions are attached, skipping")
				continue
			}
			if err := s.store.DeleteRoom(e.ID); err != nil {
				s.logger.Error().Err(err).Str("room", e.ID).
					Str("event", "sweeper.room_delete_failed").
					Msg("room snapshot delete failed")
				continue
			}
			s.engine.EvictClosed(e.ID)
			metrics.SweepDeletedRoom()
			rooms++
		}
	}

	entries, err = s.store.ListAssets()
	if err != nil {
		s.logger.Error().Err(err).Str("event", "sweeper.assets_list_failed").Msg("asset listing failed")
	} else {
		for _, e := range entries {
			if now.Sub(e.ModTime) <= s.cfg.AssetRetention {
				continue
			}
			if err := s.store.DeleteAsset(e.ID); err != nil {
				s.logger.Error().Err(err).Str("asset", e.ID).
					Str("event", "sweeper.asset_delete_failed").
					Msg("asset delete failed")
				continue
			}
			metrics.SweepDeletedAsset()
			assets++
		}
	}

	s.logger.Info().
		Str("event", "sweeper.completed").
		Int("rooms_deleted", rooms).
		Int("assets_deleted", assets).
		Msg("retention sweep completed")
}
