// Package realtime рассылает конверты изменений подключённым websocket-клиентам.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/notify"
)

const (
	defaultSendBuffer   = 16
	defaultWriteTimeout = 5 * time.Second
	defaultPongWait     = 60 * time.Second
	maxInboundMessage   = 512
)

// Options задаёт параметры хаба.
type Options struct {
	Logger       *log.Entry
	SendBuffer   int
	WriteTimeout time.Duration
	PongWait     time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// Option настраивает Hub.
type Option func(*Options)

// WithLogger задаёт logger хаба.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithSendBuffer ограничивает очередь исходящих сообщений клиента.
// Клиент, чья очередь переполнена, отключается.
func WithSendBuffer(size int) Option {
	return func(opts *Options) {
		opts.SendBuffer = size
	}
}

// WithWriteTimeout задаёт дедлайн записи одного сообщения.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.WriteTimeout = timeout
	}
}

// WithCheckOrigin переопределяет проверку Origin при upgrade.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(opts *Options) {
		opts.CheckOrigin = check
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub держит подключения одного канала (заказы или товары).
type Hub struct {
	entity   domain.EntityKind
	logger   *log.Entry
	upgrader websocket.Upgrader
	opts     Options

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub создаёт хаб для сущности entity.
func NewHub(entity domain.EntityKind, options ...Option) *Hub {
	opts := Options{
		SendBuffer:   defaultSendBuffer,
		WriteTimeout: defaultWriteTimeout,
		PongWait:     defaultPongWait,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "realtime-hub")
	}

	return &Hub{
		entity: entity,
		logger: logger.WithField("entity", entity.String()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts:    opts,
		clients: make(map[*client]struct{}),
	}
}

// WelcomeMessage — первое сообщение после подключения.
func (h *Hub) WelcomeMessage() string {
	return fmt.Sprintf("Welcome to the %s notification channel", h.entity)
}

// ServeHTTP выполняет upgrade и держит соединение до его закрытия клиентом.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.opts.SendBuffer)}
	c.send <- []byte(h.WelcomeMessage())
	if !h.register(c) {
		close(c.send)
	}
	h.logger.WithField("remote_addr", r.RemoteAddr).Info("websocket client connected")

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast ставит сообщение в очередь каждому клиенту, не блокируясь.
func (h *Hub) Broadcast(msg []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		if h.remove(c) {
			h.logger.Warn("websocket client is too slow, disconnected")
		}
	}
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close отключает всех клиентов и запрещает новые регистрации.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// remove закрывает очередь клиента; writePump после этого закрывает соединение.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.logger.Debug("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("websocket transport error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// NewHandler адаптирует хаб к подписчику диспетчера: конверт сериализуется в JSON
// и рассылается всем клиентам канала.
func NewHandler[T any](hub *Hub) notify.Handler[T] {
	return notify.HandlerFunc[T](func(_ context.Context, env domain.Envelope[T]) error {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal %s envelope: %w", env.Entity(), err)
		}
		hub.Broadcast(payload)
		return nil
	})
}
