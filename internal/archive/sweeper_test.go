package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/metrics"
	"github.com/drone-hub/hub/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
)

// mockAdapter records Remove calls and fails them for containers listed in
// failFor, to exercise the best-effort removal path.
type mockAdapter struct {
	containeradapter.Adapter
	removed []string
	failFor map[string]bool
}

func (m *mockAdapter) Remove(_ context.Context, container string, _ bool) error {
	m.removed = append(m.removed, container)
	if m.failFor[container] {
		return fmt.Errorf("mock remove failure")
	}
	return nil
}

func newTestStore(t *testing.T, reg *registry.Registry) *registry.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := registry.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := registry.Update(store, func(r *registry.Registry) (struct{}, error) {
		*r = *reg
		return struct{}{}, nil
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

// mockClock implements clock.Clock for testing.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func archivedDrone(id, container string, deleteAt time.Time) *registry.ArchivedDrone {
	return &registry.ArchivedDrone{
		Drone:    registry.Drone{ID: id, ContainerName: container},
		DeleteAt: deleteAt.UTC().Format(time.RFC3339Nano),
	}
}

func TestSweepOnceDeletesDueDronesAndCallsRemove(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	reg := &registry.Registry{
		Drones:  map[string]*registry.Drone{},
		Pending: map[string]*registry.PendingDrone{},
		Archived: map[string]*registry.ArchivedDrone{
			"d1": archivedDrone("d1", "drone-d1", past),
		},
	}
	store := newTestStore(t, reg)
	adapter := &mockAdapter{}
	m := metrics.New(prometheus.NewRegistry())
	s := New(store, adapter, nil, m, logging.New(false), time.Minute)

	s.sweepOnce(context.Background())

	if _, ok := store.Load().Archived["d1"]; ok {
		t.Error("expected d1 to be removed from registry")
	}
	if len(adapter.removed) != 1 || adapter.removed[0] != "drone-d1" {
		t.Errorf("removed = %v, want [drone-d1]", adapter.removed)
	}
}

func TestSweepOnceSkipsDronesNotYetDue(t *testing.T) {
	future := time.Now().Add(time.Hour)
	reg := &registry.Registry{
		Drones:  map[string]*registry.Drone{},
		Pending: map[string]*registry.PendingDrone{},
		Archived: map[string]*registry.ArchivedDrone{
			"d1": archivedDrone("d1", "drone-d1", future),
		},
	}
	store := newTestStore(t, reg)
	adapter := &mockAdapter{}
	s := New(store, adapter, nil, metrics.New(prometheus.NewRegistry()), logging.New(false), time.Minute)

	s.sweepOnce(context.Background())

	if _, ok := store.Load().Archived["d1"]; !ok {
		t.Error("expected d1 to remain archived (not yet due)")
	}
	if len(adapter.removed) != 0 {
		t.Errorf("removed = %v, want none", adapter.removed)
	}
}

func TestSweepOnceRemovesRegistryEntryEvenWhenContainerRemovalFails(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	reg := &registry.Registry{
		Drones:  map[string]*registry.Drone{},
		Pending: map[string]*registry.PendingDrone{},
		Archived: map[string]*registry.ArchivedDrone{
			"d1": archivedDrone("d1", "drone-d1", past),
		},
	}
	store := newTestStore(t, reg)
	adapter := &mockAdapter{failFor: map[string]bool{"drone-d1": true}}
	s := New(store, adapter, nil, metrics.New(prometheus.NewRegistry()), logging.New(false), time.Minute)

	s.sweepOnce(context.Background())

	if _, ok := store.Load().Archived["d1"]; ok {
		t.Error("registry removal should proceed despite container removal failure")
	}
}

func TestSweepOnceCapsBatchAtMax(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	archived := map[string]*registry.ArchivedDrone{}
	for i := 0; i < maxDeletionsPerRun+10; i++ {
		id := fmt.Sprintf("d%d", i)
		archived[id] = archivedDrone(id, "drone-"+id, past)
	}
	reg := &registry.Registry{
		Drones:   map[string]*registry.Drone{},
		Pending:  map[string]*registry.PendingDrone{},
		Archived: archived,
	}
	store := newTestStore(t, reg)
	adapter := &mockAdapter{}
	s := New(store, adapter, nil, metrics.New(prometheus.NewRegistry()), logging.New(false), time.Minute)

	s.sweepOnce(context.Background())

	if len(adapter.removed) != maxDeletionsPerRun {
		t.Errorf("removed %d containers, want %d", len(adapter.removed), maxDeletionsPerRun)
	}
	if len(store.Load().Archived) != 10 {
		t.Errorf("remaining archived = %d, want 10", len(store.Load().Archived))
	}
}

// TestSweepOnceUsesInjectedClockAtExactBoundary pins "now" via a fake
// clock instead of time.Now(), so the due/not-due boundary is exact
// rather than racing the wall clock.
func TestSweepOnceUsesInjectedClockAtExactBoundary(t *testing.T) {
	deleteAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := &registry.Registry{
		Drones:  map[string]*registry.Drone{},
		Pending: map[string]*registry.PendingDrone{},
		Archived: map[string]*registry.ArchivedDrone{
			"d1": archivedDrone("d1", "drone-d1", deleteAt),
		},
	}
	store := newTestStore(t, reg)
	adapter := &mockAdapter{}
	s := New(store, adapter, nil, metrics.New(prometheus.NewRegistry()), logging.New(false), time.Minute)
	s.clock = &mockClock{now: deleteAt.Add(-time.Second)}

	s.sweepOnce(context.Background())
	if _, ok := store.Load().Archived["d1"]; !ok {
		t.Error("expected d1 to remain archived before its deleteAt")
	}

	s.clock = &mockClock{now: deleteAt.Add(time.Second)}
	s.sweepOnce(context.Background())
	if _, ok := store.Load().Archived["d1"]; ok {
		t.Error("expected d1 to be swept once the clock passes deleteAt")
	}
}
