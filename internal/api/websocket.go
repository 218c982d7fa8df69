package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-intranet-chat/internal/auth"
)

// serveWs authenticates the handshake before upgrading. A rejected request
// never becomes a websocket.
func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		s.log.Printf("rejecting websocket from %s: %v", r.RemoteAddr, err)
		s.writeJson(w, http.StatusUnauthorized, NewAuthError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	if _, err := s.cs.Serve(conn, id); err != nil {
		s.log.Printf("serve websocket for %q: %v", id.UserId, err)
	}
}
