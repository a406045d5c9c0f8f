package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/xxfunc/internal/feed"
	"github.com/seantiz/xxfunc/internal/model"
)

// feedServer serves one scripted batch of messages per connection.
func feedServer(t *testing.T, batches [][]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(conns.Add(1)) - 1
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if n < len(batches) {
			for _, msg := range batches[n] {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}
		if n < len(batches)-1 {
			// Drop the connection to force a reconnect.
			return
		}
		// Hold the last connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSourceDeliversAndReconnects(t *testing.T) {
	srv, conns := feedServer(t, [][]string{
		{
			`{"id":"n1","kind":"chain_committed","data":{"tip":1}}`,
			`not json`,
			`{"kind":"chain_exploded"}`,
			`{"kind":"chain_reorged"}`,
		},
		{
			`{"id":"n3","kind":"chain_reverted"}`,
		},
	})

	src, err := feed.NewWebSocketSource(wsURL(srv),
		feed.WithReconnectInterval(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []*model.Notification
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(_ context.Context, n *model.Notification) error {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "n1", got[0].ID)
	assert.JSONEq(t, `{"tip":1}`, string(got[0].Data))
	assert.Equal(t, model.KindChainReorged, got[1].Kind)
	assert.NotEmpty(t, got[1].ID, "missing ids are filled in")
	assert.False(t, got[1].ReceivedAt.IsZero())
	assert.Equal(t, "n3", got[2].ID)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestWebSocketSourceRetriesUntilServerAppears(t *testing.T) {
	srv, _ := feedServer(t, [][]string{{`{"id":"late","kind":"chain_committed"}`}})
	url := wsURL(srv)

	// Point at a closed listener first, then swap in the live server.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := wsURL(dead)
	dead.Close()

	src, err := feed.NewWebSocketSource(deadURL,
		feed.WithReconnectInterval(5*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, src.Run(ctx, func(context.Context, *model.Notification) error {
		t.Error("no notification expected from a dead endpoint")
		return nil
	}))

	live, err := feed.NewWebSocketSource(url)
	require.NoError(t, err)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	received := make(chan string, 1)
	go live.Run(ctx2, func(_ context.Context, n *model.Notification) error {
		received <- n.ID
		return nil
	})

	select {
	case id := <-received:
		assert.Equal(t, "late", id)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestNewWebSocketSourceRejectsBadScheme(t *testing.T) {
	for _, u := range []string{"http://localhost/feed", "localhost:8546", "://"} {
		_, err := feed.NewWebSocketSource(u)
		assert.Error(t, err, u)
	}
}

func TestSourceFunc(t *testing.T) {
	var calls int
	src := feed.SourceFunc(func(ctx context.Context, h feed.Handler) error {
		return h(ctx, &model.Notification{Kind: model.KindChainCommitted})
	})
	err := src.Run(context.Background(), func(context.Context, *model.Notification) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
