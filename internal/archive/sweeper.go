// Package archive runs the Archive Sweeper: a periodic job that deletes
// archived drones past their retention deadline (spec.md §4.2/§5,
// SPEC_FULL.md §4.11). It is driven by a robfig/cron/v3 cron.Every
// schedule rather than a hand-rolled ticker.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/drone-hub/hub/internal/clock"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/metrics"
	"github.com/drone-hub/hub/internal/registry"
)

// maxDeletionsPerRun bounds each sweep per spec.md §5 ("≤25 deletions per
// run"), keeping one slow run from starving the rest of the Hub.
const maxDeletionsPerRun = 25

// Sweeper periodically deletes archived drones past their deleteAt.
type Sweeper struct {
	store    *registry.Store
	adapter  containeradapter.Adapter
	bus      *events.Bus
	metrics  *metrics.Metrics
	log      *logging.Logger
	interval time.Duration
	clock    clock.Clock

	cron *cron.Cron
}

// New constructs a Sweeper. interval is the sweep cadence (spec.md §5:
// every 5 minutes by default, per config.ArchiveSweepInterval). bus may be
// nil, in which case sweep completions are not published to subscribers
// (e.g. internal/notify's dispatcher).
func New(store *registry.Store, adapter containeradapter.Adapter, bus *events.Bus, m *metrics.Metrics, log *logging.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, adapter: adapter, bus: bus, metrics: m, log: log, interval: interval, clock: clock.Real{}}
}

// Start schedules the sweep and blocks until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron = cron.New()
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.sweepOnce(ctx) }))
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// sweepOnce runs one sweep pass: find archived drones past deleteAt, cap
// the batch, delete the registry entries, and best-effort remove their
// containers (registry removal happens regardless of container-removal
// success, per SPEC_FULL.md §4.11).
func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := s.clock.Now().UTC()
	reg := s.store.Load()

	type due struct {
		id            string
		containerName string
	}
	var candidates []due
	for id, a := range reg.Archived {
		deleteAt, err := time.Parse(time.RFC3339Nano, a.DeleteAt)
		if err != nil {
			continue
		}
		if !deleteAt.After(now) {
			candidates = append(candidates, due{id: id, containerName: a.ContainerName})
		}
	}
	if len(candidates) > maxDeletionsPerRun {
		s.log.Info("archive sweep: capping batch", "found", len(candidates), "cap", maxDeletionsPerRun)
		candidates = candidates[:maxDeletionsPerRun]
	}
	if len(candidates) == 0 {
		return
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	_, err := registry.Update(s.store, func(reg *registry.Registry) (struct{}, error) {
		for _, id := range ids {
			delete(reg.Archived, id)
		}
		return struct{}{}, nil
	})
	if err != nil {
		s.log.Error("archive sweep: registry update failed", "error", err)
		return
	}

	for _, c := range candidates {
		if c.containerName == "" {
			continue
		}
		if err := s.adapter.Remove(ctx, c.containerName, false); err != nil {
			s.log.Warn("archive sweep: failed to remove container", "container", c.containerName, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.ArchiveSweptTotal.Add(float64(len(candidates)))
	}
	if s.bus != nil {
		s.bus.Publish(events.SSEEvent{Type: events.EventArchive, Message: fmt.Sprintf("swept %d drones", len(candidates)), Timestamp: now})
	}
	s.log.Info("archive sweep complete", "deleted", len(candidates))
}
