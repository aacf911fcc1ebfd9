package msgnet

// Handler is the application's injection point into a Server.
//
// OnClientConnect runs on the accept goroutine. OnClientDisconnect runs on
// whichever goroutine noticed the disconnect during MessageClient or
// MessageAllClients. OnMessage runs on the goroutine calling Update.
// None of them may call Server.Stop.
type Handler[T MessageType] interface {
	// OnClientConnect is called for every accepted socket before it is
	// admitted. Returning false discards the connection.
	OnClientConnect(client *Conn[T]) bool
	// OnClientDisconnect is called once for a registry member found
	// disconnected, after it has been dropped from the registry.
	OnClientDisconnect(client *Conn[T])
	// OnMessage is called by Update for every received message.
	OnMessage(client *Conn[T], msg *Message[T])
}

// DefaultHandler rejects every client and ignores everything else.
// Embed it to override only the hooks you need.
type DefaultHandler[T MessageType] struct{}

// OnClientConnect rejects the client.
func (DefaultHandler[T]) OnClientConnect(*Conn[T]) bool { return false }

// OnClientDisconnect does nothing.
func (DefaultHandler[T]) OnClientDisconnect(*Conn[T]) {}

// OnMessage discards msg.
func (DefaultHandler[T]) OnMessage(*Conn[T], *Message[T]) {}

// HandlerFuncs adapts plain functions to a Handler. Nil fields fall back to
// the DefaultHandler behaviour.
type HandlerFuncs[T MessageType] struct {
	Connect    func(client *Conn[T]) bool
	Disconnect func(client *Conn[T])
	Message    func(client *Conn[T], msg *Message[T])
}

// OnClientConnect calls h.Connect, rejecting the client when it is nil.
func (h HandlerFuncs[T]) OnClientConnect(client *Conn[T]) bool {
	if h.Connect == nil {
		return false
	}
	return h.Connect(client)
}

// OnClientDisconnect calls h.Disconnect if set.
func (h HandlerFuncs[T]) OnClientDisconnect(client *Conn[T]) {
	if h.Disconnect != nil {
		h.Disconnect(client)
	}
}

// OnMessage calls h.Message if set.
func (h HandlerFuncs[T]) OnMessage(client *Conn[T], msg *Message[T]) {
	if h.Message != nil {
		h.Message(client, msg)
	}
}
