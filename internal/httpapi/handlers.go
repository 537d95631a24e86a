package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/hub"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/project"
)

// ProjectSnapshot returns the authoritative {collaborators, locks} view for
// one project. Reconnecting clients call this to resynchronize a cached view
// after a brief channel interruption.
func ProjectSnapshot(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		reply := make(chan *project.Coordinator, 1)
		h.Inbox() <- hub.GetProject{ProjectID: projectID, Reply: reply}
		p := <-reply
		if p == nil {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}

		snapReply := make(chan project.Snapshot, 1)
		p.Inbox() <- project.GetSnapshot{Reply: snapReply}
		select {
		case snap := <-snapReply:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
		case <-p.Done():
			// Drained between lookup and reply.
			http.Error(w, "project not found", http.StatusNotFound)
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
