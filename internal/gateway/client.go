package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"personarelay/internal/models"
)

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	room string
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Room is the client account this connection joined.
func (c *Client) Room() string { return c.room }

// Send queues an event for this connection only.
func (c *Client) Send(ev models.Event) {
	payload, err := json.Marshal(frame{Event: ev.Name, Data: ev.Data})
	if err != nil {
		c.hub.log.Error("marshal direct event failed", "event", ev.Name, "err", err)
		return
	}
	c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
		c.hub.log.Warn("send buffer full, dropping client", "client", c.room)
		c.close()
	}
}

// close signals writePump, which sends the close frame and owns conn.Close.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", "client", c.room, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Name == "" {
			c.Send(models.Event{Name: models.EventError, Data: map[string]string{"error": "malformed command"}})
			continue
		}
		if cmd.Name == "ping" {
			c.Send(models.Event{Name: models.EventPong, Data: map[string]int64{"timestamp": time.Now().Unix()}})
			continue
		}
		if handler := c.hub.commandHandler(); handler != nil {
			handler(ctx, c, cmd)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				c.hub.log.Debug("websocket close frame failed", "client", c.room, "err", err)
			}
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.log.Warn("websocket write failed", "client", c.room, "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
