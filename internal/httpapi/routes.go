package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/hub"
	"github.com/DoyleJ11/kuhhandel/internal/ws"
)

func SetupRoutes(h *hub.Hub, me Player, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/rooms", CreateRoom(h, me, log))
	r.Post("/rooms/{code}/join", JoinRoom(h, me, log))
	r.Get("/rooms/{code}/state", GetState(h))
	r.Post("/rooms/{code}/actions", PostAction(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	return r
}
