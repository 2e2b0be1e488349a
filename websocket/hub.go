package websocket

import (
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/goccy/go-json"

	"olhovivo/metrics"
	"olhovivo/models"
)

// Hub fans new reports out to every listening client
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	mutex            sync.RWMutex
	connectedClients int
	broadcasts       int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
			metrics.ListenersConnected.Inc()
			log.Infof("Listener connected. Total listeners: %d", h.ClientCount())

		case client := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				h.removeLocked(client)
			}
			h.mutex.Unlock()
			log.Infof("Listener disconnected. Total listeners: %d", h.ClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					log.Warn("Dropping slow listener")
					h.removeLocked(client)
				}
			}
			h.broadcasts++
			h.mutex.Unlock()

		case <-h.stop:
			h.mutex.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mutex.Unlock()
			return
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.connectedClients = len(h.clients)
	metrics.ListenersConnected.Dec()
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// BroadcastReport announces a newly stored report
func (h *Hub) BroadcastReport(report models.PublicReport) {
	message := models.BroadcastMessage{
		Type:      "report",
		Data:      report,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal broadcast message: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
		log.WithField("id", report.ID).Debugf("Broadcasting report to %d listeners", h.ClientCount())
	case <-h.stop:
	default:
		log.WithField("id", report.ID).Warn("Broadcast queue full, report not announced")
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients
}

// GetStats returns the number of listeners and broadcasts sent so far
func (h *Hub) GetStats() (int, int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, h.broadcasts
}
