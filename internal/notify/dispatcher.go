package notify

import (
	"context"
	"time"

	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/registry"
)

// sendTimeout bounds every individual notification send (SPEC_FULL.md
// §4.13: "fire-and-forget with a bounded timeout").
const sendTimeout = 5 * time.Second

// SettingsSource is the subset of hubenv.Settings the dispatcher needs to
// read the configured notification channels.
type SettingsSource interface {
	GetSettings() registry.Settings
}

// Dispatcher subscribes to the Hub's event bus — the same bus that feeds
// SSE clients — and translates the four notification-worthy transitions
// into Events delivered through Multi. It never touches the critical
// path: Run is meant to be started in its own goroutine, and every
// delivery happens off of a short-lived background context.
type Dispatcher struct {
	bus      *events.Bus
	settings SettingsSource
	log      Logger
	multi    *Multi
}

// NewDispatcher builds a Dispatcher and loads its initial notifier set
// from settings' current configuration.
func NewDispatcher(bus *events.Bus, settings SettingsSource, log Logger) *Dispatcher {
	d := &Dispatcher{bus: bus, settings: settings, log: log, multi: NewMulti(log)}
	d.Reconfigure()
	return d
}

// Reconfigure rebuilds the notifier chain from the current settings.
// Nothing calls it automatically: internal/hubenv's settings writes do not
// reach the Dispatcher, so the chain built by NewDispatcher stays in place
// until Reconfigure is called.
func (d *Dispatcher) Reconfigure() {
	n := d.settings.GetSettings().Notifications
	var notifiers []Notifier
	if n.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhook(n.WebhookURL))
	}
	if n.MQTTBroker != "" && n.MQTTTopic != "" {
		notifiers = append(notifiers, NewMQTT(n.MQTTBroker, n.MQTTTopic))
	}
	d.multi.Reconfigure(notifiers...)
}

// Run subscribes to the bus and dispatches matching events until ctx is
// canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ch, cancel := d.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d.handle(evt)
		}
	}
}

// handle maps one SSE bus event onto a notification, if it matches one of
// the four lifecycle transitions this package cares about. Everything
// else on the bus (chat messages, job updates, routine progress) is
// intentionally ignored — those are noisy and not actionable externally.
func (d *Dispatcher) handle(evt events.SSEEvent) {
	var out Event
	switch {
	case evt.Type == events.EventDroneState && evt.Message == "provisioned":
		out = Event{Type: EventDroneReady, DroneID: evt.DroneID, Message: "drone is ready"}
	case evt.Type == events.EventDroneState && evt.Message == "hub.error":
		out = Event{Type: EventHubPhaseError, DroneID: evt.DroneID, Message: "drone entered hub error state"}
	case evt.Type == events.EventArchive:
		out = Event{Type: EventArchiveComplete, Message: evt.Message}
	case evt.Type == events.EventRepoPull && evt.Message == "host-conflicts-ready":
		out = Event{Type: EventRepoPullConflict, DroneID: evt.DroneID, Message: "repo pull left host conflicts"}
	default:
		return
	}
	out.Timestamp = evt.Timestamp
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	d.fireAndForget(out)
}

// fireAndForget sends out on its own goroutine with a bounded deadline so
// a slow or unreachable notification channel never blocks the event loop
// it was fed from.
func (d *Dispatcher) fireAndForget(evt Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		d.multi.Notify(ctx, evt)
	}()
}
