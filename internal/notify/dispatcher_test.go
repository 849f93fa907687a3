package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/registry"
)

type fakeSettingsSource struct {
	mu       sync.Mutex
	settings registry.Settings
}

func (f *fakeSettingsSource) GetSettings() registry.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeSettingsSource) set(s registry.Settings) {
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
}

// recordingNotifier lets tests observe what the dispatcher actually sent.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Event
}

func (r *recordingNotifier) Name() string { return "recording" }
func (r *recordingNotifier) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherFiresOnDroneReady(t *testing.T) {
	bus := events.New()
	src := &fakeSettingsSource{}
	d := NewDispatcher(bus, src, &spyLogger{})
	rec := &recordingNotifier{}
	d.multi.Reconfigure(rec)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	bus.Publish(events.SSEEvent{Type: events.EventDroneState, DroneID: "d1", Message: "provisioned", Timestamp: time.Now()})

	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestDispatcherIgnoresUnrelatedEvents(t *testing.T) {
	bus := events.New()
	src := &fakeSettingsSource{}
	d := NewDispatcher(bus, src, &spyLogger{})
	rec := &recordingNotifier{}
	d.multi.Reconfigure(rec)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	bus.Publish(events.SSEEvent{Type: events.EventChatMessage, DroneID: "d1", Message: "hi", Timestamp: time.Now()})
	bus.Publish(events.SSEEvent{Type: events.EventDroneState, DroneID: "d1", Message: "provisioned", Timestamp: time.Now()})

	waitFor(t, func() bool { return rec.count() == 1 })
	if rec.count() != 1 {
		t.Errorf("count = %d, want 1 (chat message should be ignored)", rec.count())
	}
}

func TestDispatcherFiresOnRepoPullConflictOnly(t *testing.T) {
	bus := events.New()
	src := &fakeSettingsSource{}
	d := NewDispatcher(bus, src, &spyLogger{})
	rec := &recordingNotifier{}
	d.multi.Reconfigure(rec)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	bus.Publish(events.SSEEvent{Type: events.EventRepoPull, DroneID: "d1", Message: "no-changes", Timestamp: time.Now()})
	bus.Publish(events.SSEEvent{Type: events.EventRepoPull, DroneID: "d1", Message: "host-conflicts-ready", Timestamp: time.Now()})

	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestReconfigureBuildsNotifiersFromSettings(t *testing.T) {
	src := &fakeSettingsSource{settings: registry.Settings{
		Notifications: registry.NotificationSettings{WebhookURL: "https://example.com/hook"},
	}}
	d := NewDispatcher(events.New(), src, &spyLogger{})
	if len(d.multi.notifiers) != 1 {
		t.Fatalf("notifiers = %d, want 1", len(d.multi.notifiers))
	}
	if d.multi.notifiers[0].Name() != "webhook" {
		t.Errorf("notifier = %q, want webhook", d.multi.notifiers[0].Name())
	}

	src.set(registry.Settings{Notifications: registry.NotificationSettings{
		MQTTBroker: "tcp://broker:1883",
		MQTTTopic:  "drone-hub",
	}})
	d.Reconfigure()
	if len(d.multi.notifiers) != 1 || d.multi.notifiers[0].Name() != "mqtt" {
		t.Errorf("notifiers = %v, want [mqtt]", d.multi.notifiers)
	}
}
