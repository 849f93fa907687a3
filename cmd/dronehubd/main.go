// Command dronehubd runs the Drone Hub: the host-side service that
// provisions, reconciles, and archives coding-agent drone containers
// (spec.md §1). It wires together every internal package exactly once,
// in the order each collaborator becomes available, following the
// teacher's cmd/sentinel/main.go construction-then-goroutine-fan-out
// shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moby/moby/client"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drone-hub/hub/internal/archive"
	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/daemonclient"
	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/hubenv"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/metrics"
	"github.com/drone-hub/hub/internal/notify"
	"github.com/drone-hub/hub/internal/oplock"
	"github.com/drone-hub/hub/internal/prompt"
	"github.com/drone-hub/hub/internal/provision"
	"github.com/drone-hub/hub/internal/reconcile"
	"github.com/drone-hub/hub/internal/registry"
	"github.com/drone-hub/hub/internal/repopull"
	"github.com/drone-hub/hub/internal/web"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogJSON)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		log.Error("failed to open registry", "error", err, "path", cfg.RegistryPath)
		os.Exit(1)
	}

	// The Hub only ever talks to the local Docker daemon over its default
	// socket/named pipe; spec.md's single-host scope has no remote-daemon
	// or mTLS configuration surface to drive a teacher-style NewClient
	// helper, so the stock client package env/negotiation options suffice.
	dockerCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Error("failed to construct docker client", "error", err)
		os.Exit(1)
	}
	adapter := containeradapter.New(dockerCli, cfg.DVMBin)

	bus := events.New()

	m := metrics.New(prometheus.DefaultRegisterer)
	setInitialDroneGauges(store, m)

	lock := oplock.New()

	newDaemon := func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New(fmt.Sprintf("http://127.0.0.1:%d", hostPort), token)
	}

	prompts := prompt.New(store, lock, adapter, newDaemon, cfg, log)
	pump := prompt.NewPump(prompts, cfg.PendingPromptPumpConcurrency())

	reconciler := reconcile.New(store, adapter, newDaemon, cfg.PromptEnqueueTimeout(), pump.Trigger, log)

	provisioner := provision.New(store, adapter, newDaemon, prompts, cfg, bus, m, log)

	puller := repopull.New(store, adapter, lock, bus, m, log)

	sweeper := archive.New(store, adapter, bus, m, log, cfg.ArchiveSweepInterval())

	settings := hubenv.New(store, log, cfg)
	dispatcher := notify.NewDispatcher(bus, settings, log)

	srv := web.NewServer(web.Dependencies{
		Store:     store,
		Adapter:   adapter,
		NewDaemon: newDaemon,
		Prompts:   prompts,
		Provision: provisioner,
		Reconcile: reconciler,
		RepoPull:  puller,
		Lock:      lock,
		Bus:       bus,
		Config:    cfg,
		Metrics:   m,
		Settings:  settings,
		Log:       log,
	})

	go func() {
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("web server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	go provisioner.Run(ctx)
	// Self-heal: re-queue any pending drone a prior restart left mid-flight
	// (spec.md line 216).
	provisioner.EnqueueProvisioningForAllPending()
	go pump.Run(ctx)
	go dispatcher.Run(ctx)
	go sweeper.Start(ctx)

	log.Info("drone hub started", "addr", cfg.ListenAddr)

	// spec.md §4.7's default reconciliation poll interval; the Hub has no
	// runtime knob for this yet (unlike provision/pump concurrency), so it
	// isn't threaded through config.Config.
	const reconcilePollInterval = 2 * time.Second
	reconciler.Run(ctx, reconcilePollInterval, cfg.ReconcileConcurrency())

	log.Info("drone hub shutdown complete")
}

// setInitialDroneGauges seeds DronesTotal from what's already on disk so
// the first scrape after a restart reports real counts instead of zeros.
func setInitialDroneGauges(store *registry.Store, m *metrics.Metrics) {
	reg := store.Load()
	m.DronesTotal.WithLabelValues("live").Set(float64(len(reg.Drones)))
	m.DronesTotal.WithLabelValues("pending").Set(float64(len(reg.Pending)))
	m.DronesTotal.WithLabelValues("archived").Set(float64(len(reg.Archived)))
}
