// Package notify pushes per-user notifications (score earned, score
// deducted, loan eligibility) to connected websocket clients.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeInfo    = "info"
	TypeLoan    = "loan"
)

type Notification struct {
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier is what score-changing code depends on.
type Notifier interface {
	Notify(userID string, n Notification)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(string, Notification) {}

type subscriber struct {
	ch chan Notification
}

type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log: logger.With("component", "notify"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers a buffered receiver for userID. Call the returned func
// to unregister.
func (h *Hub) Subscribe(userID string) (<-chan Notification, func()) {
	s := &subscriber{ch: make(chan Notification, 16)}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], s)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
		})
	}
}

// Notify fans n out to every subscriber of userID. Slow subscribers lose
// messages rather than block the caller.
func (h *Hub) Notify(userID string, n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- n:
		default:
			h.log.Warn("dropping notification for slow subscriber", "user_id", userID, "title", n.Title)
		}
	}
}

// Subscribers is the number of live connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ServeWS upgrades the request and streams userID's notifications until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe(userID)
	defer cancel()

	done := make(chan struct{})

	// Reader: only needed to notice the close frame.
	go func() {
		defer close(done)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case n := <-ch:
			b, err := json.Marshal(n)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
