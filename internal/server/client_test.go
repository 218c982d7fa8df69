package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-intranet-chat/internal/auth"
	"github.com/npezzotti/go-intranet-chat/internal/cache"
	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected a second stop to be a no-op")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestNewClient(t *testing.T) {
	sess := Session{ConnId: "conn", UserId: "a", Username: "alice"}
	c := NewClient(sess, nil, nil, testutil.TestLogger(t))

	assert.Equal(t, sess, c.Session())
	assert.Equal(t, sendBufferSize, cap(c.send))
	assert.NotNil(t, c.stop)
}

// startWsServer serves websockets whose identity comes from the "user" query
// parameter.
func startWsServer(t *testing.T, cs *ChatServer) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId := r.URL.Query().Get("user")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if _, err := cs.Serve(conn, auth.Identity{UserId: userId, Username: userId + "-name"}); err != nil {
			t.Logf("serve: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWs(t *testing.T, srv *httptest.Server, userId string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userId
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	var ev wireEvent
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestClient_EndToEnd(t *testing.T) {
	conv := database.Conversation{Id: "c1", Participants: []string{"a", "b"}}

	db := &database.MockChatRepository{}
	db.On("GetConversation", mock.Anything, "c1").Return(conv, nil)
	db.On("CreateMessage", mock.Anything, sentBy("a")).Return(nil).Once()
	db.On("UpdateConversationOnMessage", mock.Anything, "c1", mock.Anything, "a", mock.Anything).Return(conv, nil).Once()
	db.On("GetUser", mock.Anything, "a").Return(database.User{Id: "a", Username: "alice"}, nil).Once()

	mutes := &cache.MockMuteList{}
	mutes.On("IsMuted", mock.Anything, "b", "a").Return(false, nil).Once()

	cs := newTestChatServer(t, db, mutes)
	srv := startWsServer(t, cs)

	a := dialWs(t, srv, "a")
	b := dialWs(t, srv, "b")

	assert.Eventually(t, func() bool {
		return cs.registry.Online("a") && cs.registry.Online("b")
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.WriteJSON(map[string]any{"event": "join_chat", "data": map[string]any{"conversationId": "c1"}}))
	assert.Eventually(t, func() bool {
		return cs.registry.RoomSize(ChatRoom("c1")) == 1
	}, time.Second, 10*time.Millisecond)

	t.Run("unknown event errors only to the sender", func(t *testing.T) {
		require.NoError(t, a.WriteJSON(map[string]any{"event": "drop_tables"}))
		ev := readEvent(t, a)
		assert.Equal(t, EventError, ev.Event)
		assert.Equal(t, errUnknownEvent, ev.Data["message"])
	})

	t.Run("malformed frame", func(t *testing.T) {
		require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
		ev := readEvent(t, a)
		assert.Equal(t, EventError, ev.Event)
		assert.Equal(t, errInvalidMessage, ev.Data["message"])
	})

	t.Run("send message reaches viewer", func(t *testing.T) {
		require.NoError(t, a.WriteJSON(map[string]any{
			"event": "send_message",
			"data":  map[string]any{"conversationId": "c1", "content": "hi bob", "sender": "b"},
		}))

		received := readEvent(t, b)
		assert.Equal(t, EventReceiveMessage, received.Event)
		assert.Equal(t, "hi bob", received.Data["content"])
		assert.Equal(t, "a", received.Data["sender"].(map[string]any)["id"])

		notification := readEvent(t, b)
		assert.Equal(t, EventNotification, notification.Event)
		assert.Equal(t, NotificationChatMessage, notification.Data["type"])
		assert.Equal(t, "alice: hi bob", notification.Data["message"])
	})

	t.Run("disconnect removes the connection", func(t *testing.T) {
		a.Close()
		assert.Eventually(t, func() bool {
			return !cs.registry.Online("a")
		}, time.Second, 10*time.Millisecond)
		assert.True(t, cs.registry.Online("b"))
	})

	t.Run("shutdown closes remaining connections", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))

		b.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := b.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going away close, got %v", err)
		assert.Equal(t, 0, cs.registry.Len())

		c := dialWs(t, srv, "c")
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = c.ReadMessage()
		assert.Error(t, err, "expected connections after shutdown to be closed")
	})
}
