package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/drone-hub/hub/internal/apierr"
)

var errStreamingUnsupported = apierr.Internal("streaming_unsupported", "response writer does not support streaming")

// writeSSE writes one text/event-stream frame.
func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
