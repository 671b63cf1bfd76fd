package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"CoinFlow/internal/codec"
	"CoinFlow/internal/domain/models"
	xlogger "CoinFlow/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

type subscriber struct {
	conn *websocket.Conn
	key  string // empty means every key
	send chan []byte
}

// LiveFeed pushes every record written to the sink to websocket
// subscribers. A subscriber that cannot keep up is disconnected.
type LiveFeed struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewLiveFeed(logger *xlogger.Logger) *LiveFeed {
	return &LiveFeed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

func (f *LiveFeed) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/records", f.Serve)
}

// Serve upgrades the request. The optional key query parameter restricts
// the feed to one coin.
func (f *LiveFeed) Serve(c echo.Context) error {
	conn, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	s := &subscriber{conn: conn, key: c.QueryParam("key"), send: make(chan []byte, sendBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	f.subs[s] = struct{}{}
	n := len(f.subs)
	f.mu.Unlock()
	f.logger.Debug("live feed subscriber joined", xlogger.String("key", s.key), xlogger.Int("subscribers", n))

	go f.writeLoop(s)
	f.readLoop(s)
	return nil
}

// readLoop discards client frames and returns when the peer goes away.
func (f *LiveFeed) readLoop(s *subscriber) {
	defer f.remove(s)
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *LiveFeed) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *LiveFeed) remove(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		close(s.send)
	}
}

// Broadcast sends r to every matching subscriber without blocking.
func (f *LiveFeed) Broadcast(r *models.PredictedRecord) {
	msg, err := json.Marshal(codec.ToOutput(r))
	if err != nil {
		f.logger.Error("encode live record", xlogger.String("key", r.Key), xlogger.Error(err))
		return
	}

	var slow []*subscriber
	f.mu.RLock()
	for s := range f.subs {
		if s.key != "" && !strings.EqualFold(s.key, r.Key) {
			continue
		}
		select {
		case s.send <- msg:
		default:
			slow = append(slow, s)
		}
	}
	f.mu.RUnlock()

	for _, s := range slow {
		f.logger.Warn("dropping slow live feed subscriber", xlogger.String("key", s.key))
		f.remove(s)
	}
}

// Subscribers returns the number of connected clients.
func (f *LiveFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close disconnects every subscriber.
func (f *LiveFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for s := range f.subs {
		delete(f.subs, s)
		close(s.send)
	}
}
