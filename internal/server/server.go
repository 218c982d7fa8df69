package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-intranet-chat/internal/auth"
	"github.com/npezzotti/go-intranet-chat/internal/cache"
	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/stats"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

type ChatServer struct {
	log      *log.Logger
	db       database.ChatRepository
	mutes    cache.MuteList
	stats    stats.StatsProvider
	registry *Registry
	wg       sync.WaitGroup
	closing  atomic.Bool
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, mutes cache.MuteList, su stats.StatsProvider) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("chat repository is required")
	}
	if mutes == nil {
		mutes = cache.NewDirectMuteList(db)
	}

	for _, name := range stats.Metrics {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:      logger,
		db:       db,
		mutes:    mutes,
		stats:    su,
		registry: NewRegistry(),
	}, nil
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

// Serve binds conn to id, registers it, joins it to the user's personal room
// and starts its pumps.
func (cs *ChatServer) Serve(conn *websocket.Conn, id auth.Identity) (*Client, error) {
	if cs.closing.Load() {
		conn.Close()
		return nil, ErrShuttingDown
	}

	c := NewClient(Session{
		ConnId:   uuid.NewString(),
		UserId:   id.UserId,
		Username: id.Username,
	}, conn, cs, cs.log)

	cs.register(c)

	cs.wg.Add(1)
	go c.Write()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()

	// Shutdown may have taken its snapshot before this client registered.
	if cs.closing.Load() {
		c.stopClient()
	}

	return c, nil
}

func (cs *ChatServer) register(c *Client) {
	cs.log.Printf("adding connection %q for %q", c.session.ConnId, c.session.Username)
	if cs.registry.Add(c) {
		cs.stats.Incr(stats.OnlineUsers)
	}
	cs.registry.Join(c, UserRoom(c.session.UserId))
	cs.stats.Incr(stats.ActiveClients)
}

func (cs *ChatServer) unregister(c *Client) {
	cs.log.Printf("removing connection %q for %q", c.session.ConnId, c.session.Username)
	removed, offline := cs.registry.Remove(c)
	if !removed {
		return
	}
	if offline {
		cs.stats.Decr(stats.OnlineUsers)
	}
	cs.stats.Decr(stats.ActiveClients)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("shutting down chat server")
	cs.closing.Store(true)

	for _, c := range cs.registry.all() {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for connections: %w", ctx.Err())
	}
}
