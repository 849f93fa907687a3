package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/metrics"
	"github.com/drone-hub/hub/internal/prompt"
	"github.com/drone-hub/hub/internal/registry"
)

// Pipeline is the bounded worker pool that promotes pending drones into
// real, running ones (spec.md §4.5). Structured after the teacher's
// engine.Queue/engine.Scheduler shape: an idempotent in-memory pending-id
// set plus channel-based dispatch to a fixed worker count.
type Pipeline struct {
	store     *registry.Store
	adapter   containeradapter.Adapter
	newDaemon prompt.DaemonFactory
	prompts   *prompt.Pipeline
	drone     *droneCLI
	cfg       *config.Config
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       *logging.Logger

	mu      sync.Mutex
	queued  map[string]bool
	queue   chan string
	started bool
}

// New constructs a Pipeline. Its queue buffers up to 256 pending ids;
// Enqueue never blocks and drops an id (logging an error) when the buffer
// is full.
func New(store *registry.Store, adapter containeradapter.Adapter, newDaemon prompt.DaemonFactory, prompts *prompt.Pipeline, cfg *config.Config, bus *events.Bus, m *metrics.Metrics, log *logging.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		adapter:   adapter,
		newDaemon: newDaemon,
		prompts:   prompts,
		drone:     newDroneCLI(cfg.DroneBin),
		cfg:       cfg,
		bus:       bus,
		metrics:   m,
		log:       log,
		queued:    make(map[string]bool),
		queue:     make(chan string, 256),
	}
}

// Run starts cfg.ProvisionConcurrency() workers draining the queue until
// ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	n := p.cfg.ProvisionConcurrency()
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.provisionDroneFromPending(ctx, id)
			p.mu.Lock()
			delete(p.queued, id)
			p.mu.Unlock()
		}
	}
}

// Enqueue idempotently schedules a pending drone id for provisioning.
func (p *Pipeline) Enqueue(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queued[id] {
		return
	}
	p.queued[id] = true
	select {
	case p.queue <- id:
	default:
		// Queue buffer exhausted -- drop the dedup marker so a later
		// explicit retry can still get through.
		delete(p.queued, id)
		p.log.Error("provisioning queue full, dropping enqueue", "pendingId", id)
	}
}

// EnqueueProvisioningForAllPending re-queues every non-error pending entry
// on server start, self-healing interrupted provisioning (spec.md §4.5,
// grounded in the teacher main.go's re-seed-on-start idiom).
func (p *Pipeline) EnqueueProvisioningForAllPending() {
	reg := p.store.Load()
	for id, pd := range reg.Pending {
		if pd.Phase == registry.PhaseError {
			continue
		}
		p.Enqueue(id)
	}
}

func (p *Pipeline) publish(droneID string, evt events.EventType, msg string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.SSEEvent{Type: evt, DroneID: droneID, Message: msg, Timestamp: time.Now()})
}

// provisionDroneFromPending runs the full provisioning sequence for one
// pending id, per spec.md §4.5 steps 1-8.
func (p *Pipeline) provisionDroneFromPending(ctx context.Context, id string) {
	start := time.Now()
	if err := p.run(ctx, id); err != nil {
		if p.metrics != nil {
			p.metrics.ProvisionFailures.Inc()
		}
		p.log.Error("provisioning failed", "pendingId", id, "error", err)
		p.markError(id, err.Error())
	}
	if p.metrics != nil {
		p.metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) markError(id, message string) {
	_, _ = registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		pd, ok := reg.Pending[id]
		if !ok {
			return struct{}{}, nil
		}
		pd.Phase = registry.PhaseError
		pd.Error = message
		pd.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		return struct{}{}, nil
	})
	p.publish(id, events.EventDroneProgress, message)
}

func (p *Pipeline) setPhase(id string, phase registry.PendingPhase, message string) error {
	_, err := registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		pd, ok := reg.Pending[id]
		if !ok {
			return struct{}{}, fmt.Errorf("pending drone %s vanished", id)
		}
		pd.Phase = phase
		pd.Message = message
		pd.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		return struct{}{}, nil
	})
	if err == nil {
		p.publish(id, events.EventDroneProgress, message)
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, id string) error {
	reg := p.store.Load()
	pd, ok := reg.Pending[id]
	if !ok {
		return fmt.Errorf("step 1: pending drone %s not found", id)
	}
	if pd.Phase == registry.PhaseError {
		return nil
	}

	// Step 2: creating.
	if err := p.setPhase(id, registry.PhaseCreating, "Creating container…"); err != nil {
		return fmt.Errorf("step 2: %w", err)
	}

	// Step 3: external drone create/import.
	containerName, err := p.drone.Create(ctx, createSpec{
		Name:          pd.Name,
		RepoPath:      pd.RepoPath,
		Group:         pd.Group,
		ContainerPort: pd.ContainerPort,
		Mkdir:         true,
		NoBuild:       !pd.Build,
	})
	if err != nil {
		return fmt.Errorf("step 3: %w", err)
	}

	hostPort, err := p.resolveHostPort(ctx, containerName, pd.ContainerPort)
	if err != nil {
		return fmt.Errorf("step 3: resolve host port: %w", err)
	}

	drone := &registry.Drone{
		ID:            id,
		Name:          pd.Name,
		Group:         pd.Group,
		ContainerName: containerName,
		ContainerPort: pd.ContainerPort,
		HostPort:      hostPort,
		Token:         randomToken(),
		Cwd:           "/work",
		Chats:         make(map[string]*registry.Chat),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}

	// Step 4: repo seed.
	if pd.RepoPath != "" {
		if err := p.setPhase(id, registry.PhaseSeeding, "Seeding repo…"); err != nil {
			return fmt.Errorf("step 4: %w", err)
		}
		seededAt := time.Now().UTC().Format(time.RFC3339Nano)
		if err := p.adapter.RepoSeed(ctx, containeradapter.RepoSeedRequest{
			Container: containerName,
			HostPath:  pd.RepoPath,
			Dest:      "/work/repo",
			BaseRef:   "HEAD",
			Branch:    "dvm/work",
			Clean:     true,
			TimeoutMs: int(p.cfg.RepoSeedTimeout().Milliseconds()),
		}); err != nil {
			return fmt.Errorf("step 4: repo seed: %w", err)
		}
		drone.RepoPath = pd.RepoPath
		drone.Cwd = "/work/repo"
		drone.Repo = &registry.RepoInfo{Dest: "/work/repo", Branch: "dvm/work", BaseRef: "HEAD", SeededAt: seededAt}
	}

	// Step 5: atomically publish the live drone and remove the pending
	// entry, capturing its seed payload for steps 6-7.
	var seed *registry.SeedSpec
	var cloneFrom string
	var cloneChats *bool
	_, err = registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		cur, ok := reg.Pending[id]
		if !ok {
			return struct{}{}, fmt.Errorf("pending drone %s vanished before publish", id)
		}
		seed = cur.Seed
		cloneFrom = cur.CloneFrom
		cloneChats = cur.CloneChats
		reg.Drones[id] = drone
		delete(reg.Pending, id)
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("step 5: %w", err)
	}
	p.publish(id, events.EventDroneState, "provisioned")

	// Step 6: clone chats from a source drone, excluding session ids.
	if cloneFrom != "" && (cloneChats == nil || *cloneChats) {
		if err := p.cloneChatsFrom(cloneFrom, id); err != nil {
			p.log.Error("clone chats failed", "from", cloneFrom, "to", id, "error", err)
		}
	}

	// Step 7: seed agent/model/prompt configuration.
	if seed != nil {
		if err := p.applySeed(ctx, id, seed); err != nil {
			p.log.Error("seed configuration failed", "droneId", id, "error", err)
			// Non-container failure: record on the live drone's hub
			// status rather than re-creating a pending entry.
			p.setHubError(id, err.Error())
		}
	}

	return nil
}

func (p *Pipeline) resolveHostPort(ctx context.Context, containerName string, containerPort int) (int, error) {
	ports, err := p.adapter.Ports(ctx, containerName)
	if err != nil {
		return 0, err
	}
	for _, pt := range ports {
		if pt.ContainerPort == containerPort {
			return pt.HostPort, nil
		}
	}
	if len(ports) == 1 {
		return ports[0].HostPort, nil
	}
	return 0, fmt.Errorf("no published host port found for container port %d", containerPort)
}

func (p *Pipeline) setHubError(droneID, message string) {
	_, _ = registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok {
			return struct{}{}, nil
		}
		d.Hub = &registry.HubStatus{Phase: registry.HubError, Message: message, UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
		return struct{}{}, nil
	})
	p.publish(droneID, events.EventDroneProgress, message)
}

// cloneChatsFrom copies createdAt/agent/model/turns from every chat on the
// source drone to the destination drone, never copying session ids
// (spec.md §4.5 step 6).
func (p *Pipeline) cloneChatsFrom(fromID, toID string) error {
	_, err := registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		src, ok := reg.Drones[fromID]
		if !ok {
			return struct{}{}, fmt.Errorf("clone source drone %s not found", fromID)
		}
		dst, ok := reg.Drones[toID]
		if !ok {
			return struct{}{}, fmt.Errorf("clone destination drone %s not found", toID)
		}
		for name, c := range src.Chats {
			turns := make([]registry.Turn, len(c.Turns))
			copy(turns, c.Turns)
			dst.Chats[name] = &registry.Chat{
				CreatedAt: c.CreatedAt,
				Agent:     c.Agent,
				Model:     c.Model,
				Turns:     turns,
			}
		}
		return struct{}{}, nil
	})
	return err
}

// applySeed configures the destination chat's agent/model and, if
// requested, enqueues the seed prompt with an extended daemon-ready wait
// (spec.md §4.5 step 7).
func (p *Pipeline) applySeed(ctx context.Context, droneID string, seed *registry.SeedSpec) error {
	chatName := seed.ChatName
	if chatName == "" {
		chatName = "main"
	}

	if seed.Agent != nil || seed.Model != "" {
		_, err := registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
			d, ok := reg.Drones[droneID]
			if !ok {
				return struct{}{}, fmt.Errorf("drone %s vanished", droneID)
			}
			chat := registry.EnsureChat(d, chatName)
			if err := registry.SetChatAgentConfig(chat, seed.Agent, seed.Model != "", seed.Model); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
		if err != nil {
			return err
		}
	}

	if seed.Prompt == "" {
		return nil
	}

	reg := p.store.Load()
	d, ok := reg.Drones[droneID]
	if !ok {
		return fmt.Errorf("drone %s vanished before seed prompt", droneID)
	}
	client := p.newDaemon(d.HostPort, d.Token)
	if err := client.WaitForReady(ctx, p.cfg.SeedBootstrapTimeout()); err != nil {
		return fmt.Errorf("daemon never became ready for seed prompt: %w", err)
	}

	promptID := seed.PromptID
	if promptID == "" || !registry.ValidPromptID(promptID) {
		promptID = randomPromptID()
	}
	return p.prompts.EnqueuePrompt(ctx, droneID, chatName, seed.Prompt, promptID, nil, seed.Cwd)
}

func randomPromptID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "seed-" + hex.EncodeToString(b[:])
}

func randomToken() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
