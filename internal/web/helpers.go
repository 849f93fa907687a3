package web

import (
	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/registry"
)

// resolveLiveDrone resolves ref (id or name) to a live drone, mapping the
// pending/unknown cases to the canonical still_starting/not_found errors
// spec.md §4.10 requires every route to produce.
func resolveLiveDrone(reg *registry.Registry, ref string) (*registry.Drone, error) {
	id, live, pending, _ := registry.FindDroneIDByRef(reg, ref)
	switch {
	case live:
		return reg.Drones[id], nil
	case pending:
		return nil, apierr.Conflict("still_starting", "drone is still starting")
	default:
		return nil, apierr.NotFound("drone_not_found", "drone not found")
	}
}

// resolveChat resolves chatName on a live drone, or returns not_found.
func resolveChat(d *registry.Drone, chatName string) (*registry.Chat, error) {
	c, ok := d.Chats[chatName]
	if !ok {
		return nil, apierr.NotFound("chat_not_found", "chat not found")
	}
	return c, nil
}
