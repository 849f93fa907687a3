package prompt

import (
	"context"
	"sync"
	"time"

	"github.com/drone-hub/hub/internal/oplock"
	"github.com/drone-hub/hub/internal/registry"
)

const maxPumpAttemptsPerCall = 50

// Pump is the hub-queued-prompt pumper: a bounded worker pool that
// processes `queued` pending prompts per chat, re-evaluating the defer
// policy each time so a prompt sends as soon as it's safe (spec.md §4.6).
// It sweeps only when Trigger is called; it has no timer of its own.
type Pump struct {
	p        *Pipeline
	signal   chan struct{}
	workers  int
}

// NewPump creates a Pump with the configured worker count.
func NewPump(p *Pipeline, workers int) *Pump {
	if workers < 1 {
		workers = 1
	}
	return &Pump{p: p, signal: make(chan struct{}, 1), workers: workers}
}

// Trigger re-arms the pump. Safe to call from any goroutine; non-blocking.
func (pp *Pump) Trigger() {
	select {
	case pp.signal <- struct{}{}:
	default:
	}
}

// Run drives the pump until ctx is canceled. It processes one trigger at
// a time (coalesced -- see Trigger), fanning the drones/chats found out
// to pp.workers goroutines.
func (pp *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pp.signal:
			pp.sweepOnce(ctx)
		}
	}
}

// sweepOnce processes every chat with at least one queued pending prompt,
// advancing at most one prompt per chat per sweep (subsequent queued
// prompts for the same chat wait for the next sweep, preserving the
// append-order guarantee the defer policy relies on).
func (pp *Pump) sweepOnce(ctx context.Context) {
	reg := pp.p.store.Load()
	type target struct{ droneID, chatName, promptID string }
	var targets []target

	for droneID, d := range reg.Drones {
		for chatName, chat := range d.Chats {
			agent := registry.InferChatAgent(chat).ID
			known := registry.SessionKnown(chat, agent)
			for _, p := range chat.PendingPrompts {
				if p.State != registry.PromptQueued {
					continue
				}
				if !registry.ShouldDeferQueuedAt(agent, known, chat, p.ID) {
					targets = append(targets, target{droneID, chatName, p.ID})
				}
				break
			}
		}
	}

	if len(targets) > maxPumpAttemptsPerCall {
		targets = targets[:maxPumpAttemptsPerCall]
	}

	sem := make(chan struct{}, pp.workers)
	var wg sync.WaitGroup
	for _, tg := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(tg target) {
			defer wg.Done()
			defer func() { <-sem }()
			pp.advance(ctx, tg.droneID, tg.chatName, tg.promptID)
		}(tg)
	}
	wg.Wait()
}

// advance transitions one queued prompt to sending and submits it.
func (pp *Pump) advance(ctx context.Context, droneID, chatName, promptID string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := registry.Update(pp.p.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok {
			return struct{}{}, nil
		}
		chat, ok := d.Chats[chatName]
		if !ok {
			return struct{}{}, nil
		}
		prompt, _ := registry.FindPendingPrompt(chat, promptID)
		if prompt == nil || prompt.State != registry.PromptQueued {
			return struct{}{}, nil
		}
		prompt.State = registry.PromptSending
		prompt.UpdatedAt = now
		return struct{}{}, nil
	})
	if err != nil {
		return
	}

	sendErr := pp.p.lock.WithLock(ctx, oplock.DroneKey(droneID), func(ctx context.Context) error {
		return pp.p.sendPromptToChat(ctx, droneID, chatName, promptID)
	})
	if sendErr != nil {
		pp.p.markFailed(droneID, chatName, promptID, sendErr.Error())
	}
}
