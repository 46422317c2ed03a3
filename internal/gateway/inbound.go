package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// EventHandler consumes decoded inbound events.
type EventHandler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
	HandleInteraction(ctx context.Context, itx Interaction)
}

// InboundHandler receives event pushes from the platform integration that
// owns the websocket session. One POST per message or slash command;
// handling runs synchronously so a 204 means the event was processed.
func InboundHandler(h EventHandler, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "inbound").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/events/message", func(w http.ResponseWriter, req *http.Request) {
		var msg InboundMessage
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			log.Warn().Err(err).Msg("bad message event")
			http.Error(w, "invalid message payload", http.StatusBadRequest)
			return
		}
		h.HandleMessage(req.Context(), msg)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/events/interaction", func(w http.ResponseWriter, req *http.Request) {
		var itx Interaction
		if err := json.NewDecoder(req.Body).Decode(&itx); err != nil {
			log.Warn().Err(err).Msg("bad interaction event")
			http.Error(w, "invalid interaction payload", http.StatusBadRequest)
			return
		}
		if itx.Command == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}
		h.HandleInteraction(req.Context(), itx)
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
