package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	tele "gopkg.in/telebot.v4"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// maxUpdateSize bounds a webhook body. Updates carry file ids, not media.
const maxUpdateSize = 1 << 20

// handleHealth reports liveness. No dependencies are checked.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook decodes a Telegram update and hands it to the controller.
// Every decoded update is acknowledged with {"ok":true}, whatever reply the
// user got, so Telegram does not redeliver it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := RequestID(r.Context())

	if r.Method != http.MethodPost {
		L_warn("http: webhook - wrong method", "method", r.Method, "request", reqID)
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var upd tele.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&upd); err != nil {
		L_warn("http: webhook - invalid JSON", "error", err, "request", reqID)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Telegram may hang up before a slow transcription finishes; the reply
	// still goes out over the Bot API, so detach from the connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.timeout)
	defer cancel()

	outcome := s.handler.HandleUpdate(ctx, &upd)
	L_debug("http: update handled", "update", upd.ID, "outcome", outcome, "request", reqID)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: response write failed", "error", err)
	}
}
