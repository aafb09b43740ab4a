package websocket

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	"github.com/wafleet/wafleet/infrastructure/valkey"
)

type client struct{}

// envelope is the wire frame pushed to dashboard clients. SenderID tags the
// originating tenancy for pub/sub loop avoidance and is stripped on delivery.
type envelope struct {
	Type     string `json:"type"`
	Data     any    `json:"data"`
	SenderID string `json:"sender_id,omitempty"`
}

var (
	Clients    = make(map[*websocket.Conn]client)
	Register   = make(chan *websocket.Conn)
	Unregister = make(chan *websocket.Conn)

	// Broadcast is buffered: a full buffer drops the event instead of
	// blocking the supervisor's state transition.
	Broadcast = make(chan envelope, 256)

	vkClient *valkey.Client
	wsChan   = "wafleet:ws_broadcast"
	localID  string
)

// SetValkeyClient enables cross-process fan-out for tenancies that run more
// than one replica.
func SetValkeyClient(client *valkey.Client, serverID string) {
	vkClient = client
	localID = serverID
}

// Broadcaster returns the sink the supervisor publishes events into.
func Broadcaster() domainInstance.Broadcaster {
	return func(ev domainInstance.Event) {
		select {
		case Broadcast <- envelope{Type: ev.Type, Data: ev.Data}:
		default:
			logrus.Warnf("[WS] Broadcast buffer full, dropping %s event", ev.Type)
		}
	}
}

func handleRegister(conn *websocket.Conn) {
	Clients[conn] = client{}
	logrus.Debug("[WS] Connection registered")
}

func handleUnregister(conn *websocket.Conn) {
	delete(Clients, conn)
	logrus.Debug("[WS] Connection unregistered")
}

func broadcastToLocal(message envelope) {
	message.SenderID = ""
	marshalMessage, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}

	for conn := range Clients {
		if err := conn.WriteMessage(websocket.TextMessage, marshalMessage); err != nil {
			logrus.Errorf("[WS] Write error: %v", err)
			closeConnection(conn)
		}
	}
}

func publishToValkey(message envelope) {
	if vkClient == nil {
		return
	}

	message.SenderID = localID
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	ctx := context.Background()
	cmd := vkClient.Inner().B().Publish().Channel(wsChan).Message(string(data)).Build()
	if err := vkClient.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func startValkeySubscriber() {
	if vkClient == nil {
		return
	}

	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	go func() {
		err := vkClient.Inner().Receive(context.Background(), vkClient.Inner().B().Subscribe().Channel(wsChan).Build(), func(msg valkeylib.PubSubMessage) {
			var remote envelope
			if err := json.Unmarshal([]byte(msg.Message), &remote); err == nil {
				// Avoid loops: ignore messages published by this instance.
				if remote.SenderID == localID {
					return
				}
				broadcastToLocal(remote)
			}
		})
		if err != nil {
			logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
		}
	}()
}

func closeConnection(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = conn.Close()
	delete(Clients, conn)
}

// RunHub owns the client set; all mutation happens on this goroutine.
func RunHub() {
	if vkClient != nil {
		startValkeySubscriber()
	}

	for {
		select {
		case conn := <-Register:
			handleRegister(conn)

		case conn := <-Unregister:
			handleUnregister(conn)

		case message := <-Broadcast:
			broadcastToLocal(message)
			if vkClient != nil {
				publishToValkey(message)
			}
		}
	}
}

// RegisterRoutes exposes the push channel. The stream is one-way: inbound
// frames are read only to detect disconnects.
func RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		defer func() {
			Unregister <- conn
			_ = conn.Close()
		}()

		Register <- conn

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Debugf("[WS] Read error: %v", err)
				}
				return
			}
		}
	}))
}
