package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drone-hub/hub/internal/containeradapter"
)

// opencodeSession is one entry from `opencode session list --format json`.
type opencodeSession struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// discoverOpenCodeSessionID looks up a container's OpenCode sessions and
// returns the id of the one whose title matches the drone/chat naming
// convention (spec.md §4.7).
func discoverOpenCodeSessionID(ctx context.Context, adapter containeradapter.Adapter, container, droneName, chatName string) (string, error) {
	res, err := adapter.Exec(ctx, container, "opencode",
		[]string{"session", "list", "--max-count", "30", "--format", "json"}, 15*time.Second)
	if err != nil {
		return "", err
	}

	var sessions []opencodeSession
	if err := json.Unmarshal([]byte(res.Stdout), &sessions); err != nil {
		return "", fmt.Errorf("parse opencode session list: %w", err)
	}

	wantTitle := fmt.Sprintf("drone-hub-%s-%s", droneName, chatName)
	for _, s := range sessions {
		if s.Title == wantTitle {
			return s.ID, nil
		}
	}
	return "", nil
}
