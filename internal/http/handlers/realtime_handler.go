// README: Live room transports: server-sent events for order watchers and a websocket for devices.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tabla/internal/apperr"
	"tabla/internal/modules/location"
	"tabla/internal/modules/order"
	"tabla/internal/realtime"
	"tabla/internal/types"
)

const (
	wsWriteWait   = 10 * time.Second
	wsMaxFrame    = 4096
	wsReplyBuffer = 16
)

type RealtimeHandler struct {
	hub       *realtime.Hub
	order     *order.Service
	location  *location.Service
	keepalive time.Duration
	upgrader  websocket.Upgrader
}

func NewRealtimeHandler(hub *realtime.Hub, orderSvc *order.Service, locationSvc *location.Service, keepalive time.Duration) *RealtimeHandler {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &RealtimeHandler{
		hub:       hub,
		order:     orderSvc,
		location:  locationSvc,
		keepalive: keepalive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Stream subscribes the caller to the order room over SSE. The first event is
// a snapshot of the order; location and status envelopes follow.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	client := h.hub.NewClient()
	h.hub.Join(realtime.OrderTopic(id), client)
	defer h.hub.Disconnect(client)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", o)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case env, ok := <-client.Messages():
			if !ok {
				return false
			}
			c.SSEvent(env.Type, env)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UTC()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// wsFrame is what devices send: join/leave a room, report a location, or ping.
type wsFrame struct {
	Type      string   `json:"type"`
	Topic     string   `json:"topic,omitempty"`
	OrderID   string   `json:"order_id,omitempty"`
	CourierID string   `json:"courier_id,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
}

type wsError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func validTopic(t string) bool {
	for _, prefix := range []string{"order:", "courier:", "conversation:"} {
		if strings.HasPrefix(t, prefix) && len(t) > len(prefix) {
			return true
		}
	}
	return false
}

// WS upgrades to a websocket. Rooms named in ?topic= are joined immediately.
func (h *RealtimeHandler) WS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	connID := uuid.NewString()
	client := h.hub.NewClient()
	replies := make(chan realtime.Envelope, wsReplyBuffer)

	for _, t := range c.QueryArray("topic") {
		if validTopic(t) {
			h.hub.Join(realtime.Topic(t), client)
		}
	}
	log.Printf("ws: %s connected", connID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client, replies)
	}()

	h.readLoop(c.Request.Context(), conn, client, replies)
	h.hub.Disconnect(client)
	<-writerDone
	_ = conn.Close()
	log.Printf("ws: %s closed", connID)
}

func (h *RealtimeHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *realtime.Client, replies chan<- realtime.Envelope) {
	conn.SetReadLimit(wsMaxFrame)
	deadline := 2 * h.keepalive
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			reply(replies, errorEnvelope("", wsError{Error: "invalid frame", Code: "bad_request"}))
			continue
		}
		h.handleFrame(ctx, client, f, replies)
	}
}

func (h *RealtimeHandler) handleFrame(ctx context.Context, client *realtime.Client, f wsFrame, replies chan<- realtime.Envelope) {
	switch f.Type {
	case "ping":
		reply(replies, realtime.Envelope{Type: "pong"})
	case "join", "leave":
		if !validTopic(f.Topic) {
			reply(replies, errorEnvelope(realtime.Topic(f.Topic), wsError{Error: "unknown topic", Code: "bad_request"}))
			return
		}
		topic := realtime.Topic(f.Topic)
		if f.Type == "join" {
			h.hub.Join(topic, client)
			reply(replies, realtime.Envelope{Type: "joined", Topic: topic})
		} else {
			h.hub.Leave(topic, client)
			reply(replies, realtime.Envelope{Type: "left", Topic: topic})
		}
	case "location":
		if f.Lat == nil || f.Lng == nil {
			reply(replies, errorEnvelope("", wsError{Error: "lat and lng are required", Code: "bad_request"}))
			return
		}
		var err error
		switch {
		case f.OrderID != "":
			_, err = h.location.PublishOrderLocation(ctx, types.ID(f.OrderID), *f.Lat, *f.Lng)
		case f.CourierID != "":
			_, err = h.location.PublishCourierLocation(ctx, types.ID(f.CourierID), *f.Lat, *f.Lng)
		default:
			reply(replies, errorEnvelope("", wsError{Error: "order_id or courier_id is required", Code: "bad_request"}))
			return
		}
		if err != nil {
			reply(replies, errorEnvelope("", wsError{Error: apperr.Message(err), Code: apperr.Kind(err)}))
		}
	default:
		reply(replies, errorEnvelope("", wsError{Error: "unknown frame type", Code: "bad_request"}))
	}
}

func (h *RealtimeHandler) writeLoop(conn *websocket.Conn, client *realtime.Client, replies <-chan realtime.Envelope) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		var env realtime.Envelope
		select {
		case e, ok := <-client.Messages():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			env = e
		case env = <-replies:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = conn.Close()
				drain(client)
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(env); err != nil {
			// closing the socket unblocks the reader, which disconnects the client
			_ = conn.Close()
			drain(client)
			return
		}
	}
}

// drain empties the client's queue until the hub closes it.
func drain(client *realtime.Client) {
	for range client.Messages() {
	}
}

func reply(replies chan<- realtime.Envelope, env realtime.Envelope) {
	select {
	case replies <- env:
	default:
	}
}

func errorEnvelope(topic realtime.Topic, e wsError) realtime.Envelope {
	data, _ := json.Marshal(e)
	return realtime.Envelope{Type: "error", Topic: topic, Data: data}
}
