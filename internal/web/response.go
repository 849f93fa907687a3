package web

import (
	"encoding/json"
	"net/http"

	"github.com/drone-hub/hub/internal/apierr"
)

// writeOK writes the canonical {ok:true, ...} envelope (spec.md §4.10).
// v's fields are inlined alongside "ok" by marshaling v into a map first;
// passing nil omits any extra fields.
func writeOK(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if v == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		// v didn't marshal to an object (e.g. a slice) -- nest it under "data".
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": json.RawMessage(data)})
		return
	}
	fields["ok"] = true
	_ = json.NewEncoder(w).Encode(fields)
}

// writeErr classifies err via apierr and writes the canonical
// {ok:false, error} envelope with the matching HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	status := apierr.StatusOf(err)
	code := "internal"
	msg := err.Error()
	if ae, ok := apierr.As(err); ok {
		code = ae.Code
		msg = ae.Message
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg, "code": code})
}

// decodeJSON decodes the request body into v, returning a classified
// apierr.Error on malformed JSON.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.Invalid("invalid_json", "request body is not valid JSON")
	}
	return nil
}
