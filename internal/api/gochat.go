package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/portal-chat/internal/config"
	"github.com/npezzotti/portal-chat/internal/database"
	"github.com/npezzotti/portal-chat/internal/gateway"
	"github.com/npezzotti/portal-chat/internal/server"
	"github.com/npezzotti/portal-chat/internal/session"
)

type ChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	gw             *gateway.Gateway
	registry       *server.Registry
	sessions       *session.Verifier
	srv            *http.Server
	portalKey      []byte
	allowedOrigins []string
	heartbeat      time.Duration
}

func NewChatApp(
	mux *http.ServeMux,
	logger *log.Logger,
	db database.ChatRepository,
	gw *gateway.Gateway,
	registry *server.Registry,
	sessions *session.Verifier,
	cfg *config.Config,
) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		gw:             gw,
		registry:       registry,
		sessions:       sessions,
		portalKey:      cfg.PortalSigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		heartbeat:      cfg.HeartbeatInterval,
	}

	mux.HandleFunc("GET /healthz", s.healthz)

	mux.HandleFunc("GET /api/chat/stream", s.portalAuth(s.globalStream))
	mux.HandleFunc("GET /api/chat/ws", s.portalAuth(s.globalWs))
	mux.HandleFunc("GET /api/chat/messages", s.portalAuth(s.globalHistory))
	mux.HandleFunc("POST /api/chat/messages", s.portalAuth(s.postGlobalMessage))
	mux.HandleFunc("GET /api/chat/bans", s.portalAuth(s.listBans))
	mux.HandleFunc("POST /api/chat/bans", s.portalAuth(s.createBan))
	mux.HandleFunc("DELETE /api/chat/bans/{userId}", s.portalAuth(s.liftBan))
	mux.HandleFunc("POST /api/chat/notices", s.portalAuth(s.postNotice))

	mux.HandleFunc("POST /api/rooms/{roomId}/session", s.roomLogin)
	mux.HandleFunc("GET /api/rooms/{roomId}/session", s.roomAuth(s.roomSession))
	mux.HandleFunc("DELETE /api/rooms/{roomId}/session", s.roomLogout)
	mux.HandleFunc("GET /api/rooms/{roomId}/stream", s.roomAuth(s.roomStream))
	mux.HandleFunc("GET /api/rooms/{roomId}/ws", s.roomAuth(s.roomWs))
	mux.HandleFunc("GET /api/rooms/{roomId}/messages", s.roomHistory)
	mux.HandleFunc("POST /api/rooms/{roomId}/messages", s.postRoomMessage)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Last-Event-ID"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests and closes every open push connection so
// that long-lived stream handlers return.
func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	s.srv.RegisterOnShutdown(s.registry.CloseAll)
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
