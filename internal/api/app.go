package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-intranet-chat/internal/auth"
	"github.com/npezzotti/go-intranet-chat/internal/cache"
	"github.com/npezzotti/go-intranet-chat/internal/config"
	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/server"
	"github.com/teris-io/shortid"
)

type ChatApp struct {
	log             *log.Logger
	db              database.ChatRepository
	mutes           cache.MuteList
	srv             *http.Server
	cs              *server.ChatServer
	verifier        auth.TokenVerifier
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, mutes cache.MuteList, cfg *config.Config) *ChatApp {
	if mutes == nil && db != nil {
		mutes = cache.NewDirectMuteList(db)
	}

	s := &ChatApp{
		log:             logger,
		db:              db,
		mutes:           mutes,
		cs:              cs,
		verifier:        auth.NewVerifier(cfg.SigningKey),
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /chat/users", s.authMiddleware(s.listUsers))
	mux.Handle("GET /chat/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("POST /chat/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("PATCH /chat/conversations/{conversationId}/read", s.authMiddleware(s.markRead))
	mux.Handle("GET /chat/messages/{conversationId}", s.authMiddleware(s.getMessages))
	mux.Handle("PATCH /chat/mute/{userId}", s.authMiddleware(s.toggleMute))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
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

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
