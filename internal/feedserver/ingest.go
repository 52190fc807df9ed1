package feedserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/pkg/feed"
)

// maxIngestBody bounds a single ingest request.
const maxIngestBody = 1 << 20

// handleIngest accepts one feed envelope from a transcriber:
//
//	{"kind":"interim","payload":{"text":"..."}}          -> 204
//	{"kind":"confirmed","payload":{"caption":{...}}}     -> 201 with the stored caption
//
// The caption's session_id is taken from the path; id and created_at are
// filled in when absent.
func (h *Hub) handleIngest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	log := observe.SessionLogger(r.Context(), sessionID)

	var env feed.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := dec.Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	switch env.Kind {
	case feed.KindInterim:
		var p feed.InterimPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interim payload: %v", err))
			return
		}
		if err := h.PublishInterim(r.Context(), sessionID, p.Text); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case feed.KindConfirmed:
		var p feed.ConfirmedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid confirmed payload: %v", err))
			return
		}
		p.Caption.SessionID = sessionID
		seg, err := h.PublishConfirmed(r.Context(), p.Caption)
		if err != nil {
			log.Warn("feedserver: rejected caption", "err", err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(seg)

	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported kind %q", env.Kind))
	}
}

func (h *Hub) handleEnd(w http.ResponseWriter, r *http.Request) {
	h.EndSession(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCaption):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
