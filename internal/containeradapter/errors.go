package containeradapter

import (
	"strings"

	"github.com/drone-hub/hub/internal/apierr"
)

// classify turns a raw error message (and, for CLI-backed operations, its
// stderr) into a classified *apierr.Error, per spec.md §4.3's message-
// pattern table. Both the Docker-API half and the dvm-exec half share
// this so callers never need to know which collaborator produced an
// error.
func classify(container string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	haystack := strings.ToLower(err.Error() + " " + stderr)

	switch {
	case containsAny(haystack, "no such container", "not found"):
		return apierr.NotFound("container_not_found", "container not found").Wrap(err)
	case containsAny(haystack, "not running", "already running",
		"not a git repository", "cannot change to"):
		return apierr.Conflict("container_state_conflict", "container is not in the required state").Wrap(err)
	default:
		return apierr.Internal("container_op_failed", "container operation failed").Wrap(err)
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
