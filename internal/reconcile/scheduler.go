package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/drone-hub/hub/internal/registry"
)

// chatRef names one (drone, chat) pair to reconcile.
type chatRef struct {
	DroneID, ChatName string
}

// listActiveChats enumerates every non-custom chat across all live
// drones, which the scheduler sweeps each tick.
func (p *Pipeline) listActiveChats() []chatRef {
	reg := p.store.Load()
	var refs []chatRef
	for droneID, d := range reg.Drones {
		for chatName, chat := range d.Chats {
			if registry.InferChatAgent(chat).ID == registry.AgentCustom {
				continue
			}
			refs = append(refs, chatRef{droneID, chatName})
		}
	}
	return refs
}

// Run drives a bounded worker pool of `concurrency` goroutines, sweeping
// every active chat once per interval tick until ctx is canceled
// (spec.md §4.7: "a bounded worker pool... default 6").
func (p *Pipeline) Run(ctx context.Context, interval time.Duration, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, concurrency)
		}
	}
}

func (p *Pipeline) sweep(ctx context.Context, concurrency int) {
	refs := p.listActiveChats()
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, ref := range refs {
		sem <- struct{}{}
		wg.Add(1)
		go func(ref chatRef) {
			defer wg.Done()
			defer func() { <-sem }()
			p.ReconcileOne(ctx, ref.DroneID, ref.ChatName)
		}(ref)
	}
	wg.Wait()
}
