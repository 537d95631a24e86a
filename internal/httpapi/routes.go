package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/config"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/hub"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/ws"
)

func SetupRoutes(h *hub.Hub, cfg config.Config, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, cfg, log))
	r.Get("/projects/{projectID}/snapshot", ProjectSnapshot(h))
	return r
}
