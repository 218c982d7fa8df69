package server

// Emitter is the set of effects an event handler may produce for the
// connection it is serving.
type Emitter interface {
	// Reply sends msg to the originating connection only.
	Reply(msg *ServerMessage)
	// ToRoom sends msg to every connection in room, the originating one included.
	ToRoom(room RoomID, msg *ServerMessage)
	// ToOthers sends msg to every connection in room except the originating one.
	ToOthers(room RoomID, msg *ServerMessage)
	Join(room RoomID) bool
	Leave(room RoomID) bool
}

type clientEmitter struct {
	c        *Client
	registry *Registry
}

func (e *clientEmitter) Reply(msg *ServerMessage) {
	e.c.queueMessage(msg)
}

func (e *clientEmitter) ToRoom(room RoomID, msg *ServerMessage) {
	e.registry.Broadcast(room, msg, nil)
}

func (e *clientEmitter) ToOthers(room RoomID, msg *ServerMessage) {
	e.registry.Broadcast(room, msg, e.c)
}

func (e *clientEmitter) Join(room RoomID) bool {
	return e.registry.Join(e.c, room)
}

func (e *clientEmitter) Leave(room RoomID) bool {
	return e.registry.Leave(e.c, room)
}
