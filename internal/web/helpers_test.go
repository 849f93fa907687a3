package web

import (
	"testing"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/registry"
)

func newTestRegistry() *registry.Registry {
	return &registry.Registry{
		Drones:   map[string]*registry.Drone{},
		Pending:  map[string]*registry.PendingDrone{},
		Archived: map[string]*registry.ArchivedDrone{},
	}
}

func TestResolveLiveDroneFindsByIDAndName(t *testing.T) {
	reg := newTestRegistry()
	reg.Drones["d1"] = &registry.Drone{ID: "d1", Name: "alpha"}

	if d, err := resolveLiveDrone(reg, "d1"); err != nil || d.ID != "d1" {
		t.Errorf("by id: d=%v err=%v", d, err)
	}
	if d, err := resolveLiveDrone(reg, "alpha"); err != nil || d.ID != "d1" {
		t.Errorf("by name: d=%v err=%v", d, err)
	}
}

func TestResolveLiveDronePendingReturnsConflict(t *testing.T) {
	reg := newTestRegistry()
	reg.Pending["p1"] = &registry.PendingDrone{ID: "p1", Name: "beta"}

	_, err := resolveLiveDrone(reg, "p1")
	ae, ok := apierr.As(err)
	if !ok || ae.Kind != apierr.KindConflict || ae.Code != "still_starting" {
		t.Errorf("err = %v, want still_starting conflict", err)
	}
}

func TestResolveLiveDroneUnknownReturnsNotFound(t *testing.T) {
	reg := newTestRegistry()
	_, err := resolveLiveDrone(reg, "nope")
	ae, ok := apierr.As(err)
	if !ok || ae.Kind != apierr.KindNotFound {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestResolveChatMissingReturnsNotFound(t *testing.T) {
	d := &registry.Drone{Chats: map[string]*registry.Chat{}}
	_, err := resolveChat(d, "missing")
	ae, ok := apierr.As(err)
	if !ok || ae.Kind != apierr.KindNotFound {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestResolveChatFound(t *testing.T) {
	chat := &registry.Chat{}
	d := &registry.Drone{Chats: map[string]*registry.Chat{"main": chat}}
	got, err := resolveChat(d, "main")
	if err != nil || got != chat {
		t.Errorf("got=%v err=%v", got, err)
	}
}
