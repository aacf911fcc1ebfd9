package main

import (
	"github.com/Zereker/msgnet"
	"github.com/Zereker/msgnet/example/protocol"
)

type (
	conn    = msgnet.Conn[protocol.MsgType]
	message = msgnet.Message[protocol.MsgType]
)

// game greets every client, bounces pings and relays MessageAll to the
// other clients.
type game struct {
	server *msgnet.Server[protocol.MsgType]
	logger msgnet.Logger
}

func (g *game) OnClientConnect(client *conn) bool {
	if err := client.Send(msgnet.NewMessage(protocol.ServerAccept)); err != nil {
		return false
	}
	return true
}

func (g *game) OnClientDisconnect(client *conn) {
	g.logger.Info("removing client", "id", client.ID())
}

func (g *game) OnMessage(client *conn, msg *message) {
	switch msg.Header.ID {
	case protocol.ServerPing:
		g.logger.Debug("server ping", "id", client.ID())
		g.server.MessageClient(client, msg)

	case protocol.MessageAll:
		g.logger.Debug("message all", "id", client.ID())
		g.server.MessageAllClients(protocol.NewServerMessage(client.ID()), client)

	default:
		g.logger.Warn("unexpected message", "id", client.ID(), "type", msg.Header.ID)
	}
}
