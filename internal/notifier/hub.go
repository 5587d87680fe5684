package notifier

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	id   string
	room string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

type broadcast struct {
	room    string
	payload []byte
}

// Hub keeps the set of websocket subscribers and fans events out to them.
// The subscriber set is owned by the Run goroutine.
type Hub struct {
	subscribers map[*subscriber]bool
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan broadcast
	done        chan struct{}
	count       atomic.Int64
	metrics     *metrics.Metrics
}

// NewHub creates a hub; call Run to start it
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan broadcast, 256),
		done:        make(chan struct{}),
		metrics:     m,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for s := range h.subscribers {
			h.remove(s)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.subscribers[s] = true
			h.updateCount()
			logrus.WithFields(logrus.Fields{
				"subscriber": s.id,
				"room":       s.room,
				"total":      len(h.subscribers),
			}).Debug("Status subscriber connected")

		case s := <-h.unregister:
			if h.subscribers[s] {
				h.remove(s)
				logrus.WithField("subscriber", s.id).Debug("Status subscriber disconnected")
			}

		case msg := <-h.broadcast:
			for s := range h.subscribers {
				if s.room != "" && s.room != msg.room {
					continue
				}
				select {
				case s.send <- msg.payload:
				default:
					h.remove(s)
					h.metrics.SubscribersDropped.Inc()
					logrus.WithField("subscriber", s.id).Warn("Status subscriber too slow, dropped")
				}
			}
		}
	}
}

// Publish queues an event for every unscoped subscriber and for the
// subscribers of the event's tenant room. A full queue drops the event.
func (h *Hub) Publish(ctx context.Context, event StatusEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- broadcast{room: Room(event.TenantID), payload: payload}:
		h.metrics.EventsPublished.Inc()
	case <-h.done:
	default:
		logrus.WithField("message_id", event.MessageID).Warn("Status broadcast queue full, event dropped")
	}
	return nil
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and subscribes the connection.
// An optional ?tenant=<id> limits the subscription to that tenant's room.
func (h *Hub) ServeWS(c *gin.Context) {
	room := ""
	if tenant := c.Query("tenant"); tenant != "" {
		id, err := strconv.ParseUint(tenant, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_tenant",
				"message": "tenant must be a numeric id",
				"code":    http.StatusBadRequest,
			})
			return
		}
		tenantID := uint(id)
		room = Room(&tenantID)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	s := &subscriber{
		id:   uuid.NewString(),
		room: room,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  h,
	}

	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

func (h *Hub) remove(s *subscriber) {
	delete(h.subscribers, s)
	close(s.send)
	h.updateCount()
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.subscribers)))
	h.metrics.Subscribers.Set(float64(len(h.subscribers)))
}

// readPump discards inbound frames and detects disconnects
func (s *subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debug("WebSocket read error")
			}
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
