package internal

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()
	require.Equal(t, 2, h.Len())

	h.Publish(Change{Table: "affiliates", Op: "UPDATE", ID: "x"})
	assert.Equal(t, "x", (<-a).ID)
	assert.Equal(t, "x", (<-b).ID)

	unsubA()
	unsubA()
	assert.Equal(t, 1, h.Len())

	h.Publish(Change{ID: "y"})
	select {
	case c := <-a:
		t.Fatalf("unsubscribed channel received %+v", c)
	default:
	}
	assert.Equal(t, "y", (<-b).ID)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(Change{ID: "n"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, cap(ch), len(ch))
}

func TestStreamChangesSSE(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/stream", StreamChanges(hub, time.Hour))

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// headers are flushed after the subscription exists
	require.Equal(t, 1, hub.Len())
	hub.Publish(Change{Table: "proofs", Op: "INSERT", ID: "9"})

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var got []string
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if l != "" {
				got = append(got, l)
			}
		case <-timeout:
			t.Fatalf("no event, got %v", got)
		}
	}
	assert.Equal(t, "event:change", got[0])
	assert.True(t, strings.HasPrefix(got[1], "data:"))
	assert.Contains(t, got[1], `"table":"proofs"`)
	assert.Contains(t, got[1], `"id":"9"`)
}

// scriptedConn replays payloads, then fails with err, or blocks until ctx ends when err is nil.
type scriptedConn struct {
	payloads []string
	err      error

	mu       sync.Mutex
	listened bool
	broken   bool
}

func (c *scriptedConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listened = sql == "LISTEN "+changesChannel
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *scriptedConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.mu.Lock()
	if len(c.payloads) > 0 {
		p := c.payloads[0]
		c.payloads = c.payloads[1:]
		c.mu.Unlock()
		return &pgconn.Notification{Channel: changesChannel, Payload: p}, nil
	}
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedConn) Release(broken bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = broken
}

type scriptedSource struct {
	mu       sync.Mutex
	conns    []*scriptedConn
	acquired int
}

func (s *scriptedSource) Acquire(ctx context.Context) (notifyConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired >= len(s.conns) {
		return nil, errors.New("pool exhausted")
	}
	c := s.conns[s.acquired]
	s.acquired++
	return c, nil
}

func TestListenReconnectsAfterDrop(t *testing.T) {
	first := &scriptedConn{
		payloads: []string{`{"table":"affiliates","op":"UPDATE","id":"a1"}`, `not json`},
		err:      errors.New("conn reset by peer"),
	}
	second := &scriptedConn{payloads: []string{`{"table":"proofs","op":"INSERT","id":"7"}`}}
	src := &scriptedSource{conns: []*scriptedConn{first, second}}

	hub := NewHub()
	events, unsub := hub.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listen(ctx, src, hub, 10*time.Millisecond)
		close(done)
	}()

	var got []Change
	for len(got) < 2 {
		select {
		case c := <-events:
			got = append(got, c)
		case <-time.After(3 * time.Second):
			t.Fatalf("listener did not recover, got %v", got)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener ignored cancellation")
	}

	assert.Equal(t, Change{Table: "affiliates", Op: "UPDATE", ID: "a1"}, got[0])
	assert.Equal(t, Change{Table: "proofs", Op: "INSERT", ID: "7"}, got[1])

	src.mu.Lock()
	assert.Equal(t, 2, src.acquired)
	src.mu.Unlock()
	for _, c := range []*scriptedConn{first, second} {
		c.mu.Lock()
		assert.True(t, c.listened)
		assert.True(t, c.broken)
		c.mu.Unlock()
	}
}
