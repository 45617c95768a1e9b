package internal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const changesChannel = "promo_changes"

// Change is the payload the database triggers send on promo_changes.
type Change struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// Hub fans changes out to SSE subscribers. Slow subscribers miss events.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Change]struct{})}
}

func (h *Hub) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// notifyConn is a session that can LISTEN. Release with broken=true drops
// the session instead of returning it to the pool.
type notifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release(broken bool)
}

type notifySource interface {
	Acquire(ctx context.Context) (notifyConn, error)
}

type poolSource struct{ pool *pgxpool.Pool }

func (s poolSource) Acquire(ctx context.Context) (notifyConn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pooledConn{c}, nil
}

type pooledConn struct{ c *pgxpool.Conn }

func (p pooledConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.c.Exec(ctx, sql, args...)
}

func (p pooledConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return p.c.Conn().WaitForNotification(ctx)
}

func (p pooledConn) Release(broken bool) {
	if broken {
		// the session still holds LISTEN; do not hand it back to the pool
		_ = p.c.Conn().PgConn().Close(context.Background())
	}
	p.c.Release()
}

// Listen holds one pooled connection on LISTEN promo_changes and publishes
// every notification until ctx is done. A dropped connection is retried after backoff.
func Listen(ctx context.Context, pool *pgxpool.Pool, hub *Hub, backoff time.Duration) {
	listen(ctx, poolSource{pool}, hub, backoff)
}

func listen(ctx context.Context, src notifySource, hub *Hub, backoff time.Duration) {
	for {
		err := listenOnce(ctx, src, hub)
		if ctx.Err() != nil {
			return
		}
		log.Printf("realtime: listener stopped: %v, retrying in %s", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func listenOnce(ctx context.Context, src notifySource, hub *Hub) error {
	conn, err := src.Acquire(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		conn.Release(true)
		return err
	}
	log.Printf("realtime: listening on %s", changesChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			conn.Release(true)
			return err
		}
		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			log.Printf("realtime: bad payload %q: %v", n.Payload, err)
			continue
		}
		hub.Publish(c)
	}
}

// GET /api/affiliates/stream
func StreamChanges(hub *Hub, keepalive time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(200)
		c.Writer.Flush()

		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				c.SSEvent("change", ev)
				c.Writer.Flush()
			case <-ticker.C:
				c.SSEvent("ping", time.Now().Unix())
				c.Writer.Flush()
			}
		}
	}
}
