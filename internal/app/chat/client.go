package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fnchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	// A chat message of MaxChatRunes multi-byte runes plus envelope fits.
	maxMessageSize = 16384
)

// Client pumps frames between a websocket and its Connection in the coordinator.
type Client struct {
	ctx   context.Context
	coord *Coordinator
	conn  *websocket.Conn

	// connection is the coordinator-side record; only its ID and Send queue are read here.
	connection *Connection

	logger zerolog.Logger
}

// NewClient constructs a Client for an already attached connection.
func NewClient(ctx context.Context, coord *Coordinator, wsConn *websocket.Conn, connection *Connection) *Client {
	return &Client{
		ctx:        ctx,
		coord:      coord,
		conn:       wsConn,
		connection: connection,
		logger:     logx.Logger().With().Str("conn_id", connection.ID).Logger(),
	}
}

// ReadPump reads frames until the socket fails, then detaches the connection.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	if err := c.coord.Disconnect(c.ctx, c.connection.ID); err != nil {
		c.logger.Warn().Err(err).Msg("Coordinator did not accept disconnect.")
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundMessage decodes one frame and hands it to the coordinator.
func (c *Client) processInboundMessage(messageBytes []byte) {
	var inbound InboundMessage
	if err := json.Unmarshal(messageBytes, &inbound); err != nil {
		c.logger.Warn().Err(err).Int("size", len(messageBytes)).Msg("Client sent invalid JSON")
		return
	}

	var err error
	switch inbound.Type {
	case TypeRegisterUser:
		var p RegisterUserPayload
		if !c.decodePayload(inbound, &p) {
			return
		}
		err = c.coord.RegisterUser(c.ctx, c.connection.ID, stringify(p.Username), stringify(p.Gender))

	case TypeChatMessage:
		var p ChatInPayload
		if !c.decodePayload(inbound, &p) {
			return
		}
		err = c.coord.SendChat(c.ctx, c.connection.ID, stringify(p.Text))

	case TypeJoinRoom:
		var p JoinRoomPayload
		if !c.decodePayload(inbound, &p) {
			return
		}
		err = c.coord.JoinRoom(c.ctx, c.connection.ID, p.RoomID, p.Password)

	default:
		c.logger.Warn().Str("msg_type", string(inbound.Type)).Msg("Client sent unsupported message type")
		return
	}

	// Domain rejections have already been pushed to the client.
	if err != nil {
		c.logger.Debug().Err(err).Str("msg_type", string(inbound.Type)).Msg("Inbound frame not applied.")
	}
}

func (c *Client) decodePayload(inbound InboundMessage, dst any) bool {
	if len(inbound.Payload) == 0 {
		return true
	}

	if err := json.Unmarshal(inbound.Payload, dst); err != nil {
		c.logger.Warn().Err(err).Str("msg_type", string(inbound.Type)).Msg("Client sent invalid payload")
		return false
	}
	return true
}

// WritePump writes queued frames and periodic pings until the queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	send := c.connection.Send()
	for {
		select {
		case message, ok := <-send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage returns false when the pump should stop.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
