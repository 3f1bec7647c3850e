package websocket

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var socketLogger = logger.Get("WebSocket")

type SocketHandler func(*SocketHub, *SocketMessage) error

// SocketHub owns every activity socket. It upgrades incoming requests,
// tracks connected clients, delivers outgoing messages and routes
// commands received from clients to their bound handlers.
type SocketHub struct {
	handlers           map[string]SocketHandler
	upgrader           *websocket.Upgrader
	clients            []*socketClient
	registerCh         chan *socketClient
	deregisterCh       chan *socketClient
	sendCh             chan *SocketMessage
	receiveCh          chan *SocketMessage
	doneCh             chan struct{}
	connectionCallback func() map[string]interface{}
	running            atomic.Bool
}

// New returns a hub ready to be started.
func New() *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sendCh:       make(chan *SocketMessage),
		receiveCh:    make(chan *SocketMessage),
		registerCh:   make(chan *socketClient),
		deregisterCh: make(chan *socketClient),
		doneCh:       make(chan struct{}),
	}
}

// WithConnectionCallback sets the function providing the initial state sent
// to each client as part of its welcome message.
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]interface{}) {
	hub.connectionCallback = callback
}

// BindCommand routes commands titled command to the handler given.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Running reports whether the hub is accepting clients and messages.
func (hub *SocketHub) Running() bool { return hub.running.Load() }

// Start runs the hub until the context is cancelled, at which point every
// client is disconnected. A hub cannot be restarted once closed.
func (hub *SocketHub) Start(ctx context.Context) {
	select {
	case <-hub.doneCh:
		socketLogger.Emit(logger.WARNING, "Socket hub has already been closed and cannot be restarted\n")
		return
	default:
	}

	if ctx.Err() != nil {
		socketLogger.Emit(logger.STOP, "Socket hub not started, context already cancelled\n")
		return
	} else if !hub.running.CompareAndSwap(false, true) {
		socketLogger.Emit(logger.WARNING, "Socket hub is already running\n")
		return
	}
	socketLogger.Emit(logger.INFO, "Socket hub started\n")

	hub.clients = make([]*socketClient, 0)
	defer hub.close()
loop:
	for {
		select {
		case message := <-hub.sendCh:
			hub.deliver(message)
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				socketLogger.Emit(logger.ERROR, "Rejecting client %s, a client with this ID is already connected\n", client.id)
				client.Close()
				continue
			}

			hub.clients = append(hub.clients, client)
			socketLogger.Emit(logger.NEW, "Client %s connected (%d total)\n", client.id, len(hub.clients))
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				socketLogger.Emit(logger.REMOVE, "Client %s disconnected\n", client.id)
			}
		case <-ctx.Done():
			socketLogger.Emit(logger.STOP, "Socket hub stopping, disconnecting %d clients\n", len(hub.clients))
			break loop
		}
	}
}

// Send queues a message for delivery. Messages sent while the hub is not
// running are dropped.
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.VERBOSE, "Dropping message %s, socket hub is not running\n", message.Title)
		return
	}

	select {
	case hub.sendCh <- message:
	case <-hub.doneCh:
	}
}

// UpgradeToSocket upgrades the request to a websocket and serves the
// resulting client until it disconnects or the hub stops.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.ERROR, "Rejecting socket upgrade, socket hub is not running\n")
		http.Error(w, "activity stream unavailable", http.StatusServiceUnavailable)
		return
	}

	id, err := uuid.NewRandom()
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to generate client ID: %v\n", err)
		http.Error(w, "failed to generate client id", http.StatusInternalServerError)
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Socket upgrade failed: %v\n", err)
		return
	}

	client := &socketClient{id: id, socket: sock}
	select {
	case hub.registerCh <- client:
	case <-hub.doneCh:
		client.Close()
		return
	}

	body := map[string]interface{}{}
	if hub.connectionCallback != nil {
		if initial := hub.connectionCallback(); initial != nil {
			body = initial
		}
	}
	body["client"] = id

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   body,
		Target: &id,
		Type:   Welcome,
	})

	defer func() {
		select {
		case hub.deregisterCh <- client:
		case <-hub.doneCh:
		}
		client.Close()
	}()

	if err := client.Read(hub.receiveCh, hub.doneCh); err != nil {
		socketLogger.Emit(logger.DEBUG, "Client %s read loop ended: %v\n", client.id, err)
	}
}

// close marks the hub as stopped and disconnects every client.
func (hub *SocketHub) close() {
	hub.running.Store(false)
	close(hub.doneCh)

	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	socketLogger.Emit(logger.STOP, "Socket hub closed\n")
}

// handleMessage runs the handler bound to a received command, replying
// to the sender with a COMMAND_FAILURE if no handler exists or it fails.
func (hub *SocketHub) handleMessage(command *SocketMessage) {
	if command.Type != Command {
		socketLogger.Emit(logger.WARNING, "Ignoring %s message from client %v, clients may only send commands\n", command.Type, command.Origin)
		return
	}

	handler, ok := hub.handlers[command.Title]
	if !ok {
		socketLogger.Emit(logger.WARNING, "No handler bound for command %s\n", command.Title)
		hub.Send(command.FormReply("COMMAND_FAILURE", map[string]interface{}{"error": "Unknown command"}, ErrorResponse))
		return
	}

	if err := handler(hub, command); err != nil {
		socketLogger.Emit(logger.ERROR, "Command %s failed: %v\n", command.Title, err)
		hub.Send(command.FormReply("COMMAND_FAILURE", map[string]interface{}{"error": err.Error()}, ErrorResponse))
		return
	}

	socketLogger.Emit(logger.SUCCESS, "Command %s handled\n", command.Title)
}

// findClient returns the index and client with the ID given, or -1 and
// nil if no such client is connected.
func (hub *SocketHub) findClient(id uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id {
			return idx, client
		}
	}

	return -1, nil
}

// deliver writes the message to its target client, or to every client
// when it has no target. A client which cannot be written to is closed,
// and is deregistered once its read loop exits.
func (hub *SocketHub) deliver(message *SocketMessage) {
	recipients := hub.clients
	if message.Target != nil {
		_, client := hub.findClient(*message.Target)
		if client == nil {
			socketLogger.Emit(logger.WARNING, "Dropping message %s, target client %s is not connected\n", message.Title, message.Target)
			return
		}
		recipients = []*socketClient{client}
	}

	for _, client := range recipients {
		if err := client.SendMessage(message); err != nil {
			socketLogger.Emit(logger.WARNING, "Failed to write %s to client %s, closing: %v\n", message.Title, client.id, err)
			client.Close()
		}
	}
}
