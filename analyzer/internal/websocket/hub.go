package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/batch"
)

const writeWait = 10 * time.Second

// Hub управляет WebSocket соединениями и рассылает ход разметки
// подписчикам сессии
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Канал для регистрации клиентов
	register chan *Client

	// Канал для отмены регистрации клиентов
	unregister chan *Client

	// Канал исходящих сообщений
	broadcast chan envelope

	// Мютекс для безопасной работы с картой клиентов
	mu sync.RWMutex

	// Закрывается, когда Run завершился
	done chan struct{}

	log logrus.FieldLogger
}

type envelope struct {
	sessionID string
	payload   []byte
}

// Client представляет WebSocket клиента
type Client struct {
	hub *Hub

	// WebSocket соединение
	conn *websocket.Conn

	// Буферизованный канал исходящих сообщений
	send chan []byte

	// ID сессии для фильтрации данных
	sessionID string
}

// ProgressMessage - сообщение фронтенду о ходе автоматического прохода
type ProgressMessage struct {
	SessionID string            `json:"session_id"`
	Status    string            `json:"status"`
	Progress  annotate.Progress `json:"progress"`
	Updates   int               `json:"updates"`
	Timestamp time.Time         `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене следует проверять домен
		return true
	},
}

// NewHub создает новый Hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
		log:        log.WithField("component", "websocket"),
	}
}

// Run запускает Hub до отмены контекста. После выхода новые клиенты
// сразу отключаются, а отписка и рассылка не блокируются.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.WithField("session_id", client.sessionID).Info("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.WithField("session_id", client.sessionID).Info("Client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.sessionID != msg.sessionID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Consume реализует batch.Sink: подписчикам уходит последнее состояние батча
func (h *Hub) Consume(ctx context.Context, b batch.Batch) error {
	last, ok := b.Last()
	if !ok {
		return nil
	}

	message, err := json.Marshal(ProgressMessage{
		SessionID: b.SessionID,
		Status:    last.Progress.State.String(),
		Progress:  last.Progress,
		Updates:   len(b.Events),
		Timestamp: last.At,
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- envelope{sessionID: b.SessionID, payload: message}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		h.log.WithField("session_id", b.SessionID).Warn("Broadcast channel full, dropping message")
		return ctx.Err()
	}
}

// ClientCount возвращает число подписчиков сессии
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.sessionID == sessionID {
			n++
		}
	}
	return n
}

// HandleWebSocket обрабатывает WebSocket соединения
// GET /ws?session_id=...
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("Failed to upgrade connection")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Запускаем горутины для клиента
	go client.writePump()
	go client.readPump()
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.log.WithError(err).Error("Failed to write message")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
