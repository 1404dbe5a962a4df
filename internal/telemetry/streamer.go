// Package telemetry broadcasts solver progress over a JWT-guarded
// WebSocket, adapted from the teacher's livefeed streamer for a batch
// calibration job instead of a flight telemetry feed: one topic (solver
// progress), one clearance tier (bearer token), no command channel.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ProgressMessage reports one Levenberg-Marquardt iteration (spec.md §4.3
// "Optimization"): iteration number, current cost, damping factor, and a
// terminal flag for the solve's final message.
type ProgressMessage struct {
	Iteration int       `json:"iteration"`
	Cost      float64   `json:"cost"`
	Lambda    float64   `json:"lambda"`
	Timestamp time.Time `json:"timestamp"`
	Done      bool      `json:"done"`
	Err       string    `json:"error,omitempty"`
}

// Streamer broadcasts ProgressMessage values to any number of connected
// WebSocket clients, each authenticated by a bearer JWT signed with a
// shared secret (SPEC_FULL.md domain stack: optional progress telemetry).
type Streamer struct {
	mu      sync.RWMutex
	clients map[*client]bool

	broadcast chan *ProgressMessage
	upgrader  websocket.Upgrader
	logger    *logrus.Entry
	secret    []byte
}

type client struct {
	conn *websocket.Conn
	send chan *ProgressMessage
}

// NewStreamer creates a streamer guarded by the given shared HMAC secret.
// An empty secret disables authentication entirely (local/dev use).
func NewStreamer(secret string, logger *logrus.Entry) *Streamer {
	return &Streamer{
		clients:   make(map[*client]bool),
		broadcast: make(chan *ProgressMessage, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		secret: []byte(secret),
	}
}

// HandleWebSocket upgrades an authenticated request to a WebSocket and
// registers the resulting client.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if len(s.secret) > 0 {
		if err := s.authenticate(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf().WithError(err).Error("failed to upgrade websocket")
		return
	}

	c := &client{conn: conn, send: make(chan *ProgressMessage, 16)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go c.writePump(ctx)
	go c.readPump(cancel, s)
}

func (s *Streamer) authenticate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return jwt.ErrTokenMalformed
	}
	raw := strings.TrimPrefix(header, prefix)

	_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}

// Publish enqueues a progress message for broadcast, dropping the oldest
// queued message if the buffer is full rather than blocking the solver loop.
func (s *Streamer) Publish(msg *ProgressMessage) {
	select {
	case s.broadcast <- msg:
	default:
		select {
		case <-s.broadcast:
		default:
		}
		s.broadcast <- msg
	}
}

// Run drains the broadcast channel and fans messages out to every connected
// client until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case msg := <-s.broadcast:
			s.fanOut(msg)
		}
	}
}

func (s *Streamer) fanOut(msg *ProgressMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (s *Streamer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.Close()
		close(c.send)
		delete(s.clients, c)
	}
}

func (s *Streamer) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Streamer) logf() *logrus.Entry {
	if s.logger != nil {
		return s.logger
	}
	return logrus.NewEntry(logrus.New())
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(cancel context.CancelFunc, s *Streamer) {
	defer func() {
		cancel()
		s.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
