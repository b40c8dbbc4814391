package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Actief-IT-Services/aits-print-server/internal/store"
)

// EventHub fans job lifecycle events out to websocket subscribers. It
// implements core.EventSink; a slow or dead client is dropped rather
// than allowed to block the dispatch loop.
type EventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

type jobEventMessage struct {
	Type         string    `json:"type"`
	Event        string    `json:"event"`
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	PrinterName  string    `json:"printer_name,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	RetryCount   int       `json:"retry_count,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger.With("component", "events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Event stream is read-only status data; auth happens at
			// the HTTP layer before the upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *EventHub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "clients", count)
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// JobEvent satisfies core.EventSink. Marshalling happens on the caller
// side so the hub goroutine only moves bytes.
func (h *EventHub) JobEvent(event string, job *store.Job) {
	msg := jobEventMessage{
		Type:        "job_update",
		Event:       event,
		JobID:       job.ID,
		Status:      string(job.Status),
		PrinterName: job.PrinterName,
		RetryCount:  job.RetryCount,
		Timestamp:   time.Now().UTC(),
	}
	if job.ErrorMessage != "" {
		msg.ErrorMessage = job.ErrorMessage
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal job event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		// Hub backlog full; events are advisory, drop rather than
		// stall the dispatch loop.
		h.logger.Warn("event broadcast queue full, dropping event", "event", event, "job_id", job.ID)
	}
}

// ServeWS upgrades the connection and keeps it registered until the
// client goes away. Incoming frames are read and discarded; the stream
// is one-way.
func (h *EventHub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// The hub goroutine exits on Stop, so both handoffs select against
	// it; a subscriber arriving during shutdown is closed, not parked
	// on a channel nobody drains.
	select {
	case h.register <- conn:
	case <-h.stop:
		conn.Close()
		return
	}
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stop:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
