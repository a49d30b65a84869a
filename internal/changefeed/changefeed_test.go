package changefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libportal/internal/platform/metrics"
)

func recv(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestHubFanOutAndStamp(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Subscribe(4)
	b := hub.Subscribe(4)
	defer a.Close()
	defer b.Close()

	require.NoError(t, hub.Publish(context.Background(), Change{Table: TableBooks, Op: OpInsert, Key: "1"}))

	ca, cb := recv(t, a), recv(t, b)
	assert.Equal(t, ca, cb)
	assert.Len(t, ca.ID, 26)
	assert.False(t, ca.At.IsZero())
	assert.Equal(t, TableBooks, ca.Table)
}

func TestHubClosesSlowSubscriber(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(m)
	slow := hub.Subscribe(DefaultBuffer)
	fast := hub.Subscribe(DefaultBuffer)
	defer fast.Close()

	ctx := context.Background()
	for i := 0; i < DefaultBuffer; i++ {
		require.NoError(t, hub.Publish(ctx, Change{Table: TableLoans, Op: OpUpdate}))
		recv(t, fast)
	}
	// slow の buffer は満杯。books の変更は届かないので購読ごと閉じられる
	require.NoError(t, hub.Publish(ctx, Change{Table: TableBooks, Op: OpUpdate}))
	assert.Equal(t, TableBooks, recv(t, fast).Table)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedDropped))
	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedSubscribers))

	// buffered changes are still readable, then the channel reports closed
	for i := 0; i < DefaultBuffer; i++ {
		c, ok := <-slow.C
		require.True(t, ok)
		assert.Equal(t, TableLoans, c.Table)
	}
	_, ok := <-slow.C
	assert.False(t, ok, "a full subscriber must be closed, not silently skipped")

	slow.Close()
	assert.Equal(t, 1, hub.Len())
}

func TestGatewayEndsSocketOfClosedSubscription(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	RegisterRoutes(r, NewGateway(hub, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/changes", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "server should close the socket")
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Subscribe(0)
	hub.Close()

	_, ok := <-a.C
	assert.False(t, ok)
	assert.Zero(t, hub.Len())

	late := hub.Subscribe(0)
	_, ok = <-late.C
	assert.False(t, ok)
	late.Close()
	require.NoError(t, hub.Publish(context.Background(), Change{Table: TableBooks, Op: OpUpdate}))
}

type recordingPublisher struct{ got []Change }

func (r *recordingPublisher) Publish(_ context.Context, c Change) error {
	r.got = append(r.got, c)
	return nil
}

func TestNotifier(t *testing.T) {
	rec := &recordingPublisher{}
	n := NewNotifier(rec, nil)
	n.Notify(context.Background(), TableProfiles, OpUpdate, "m1")
	require.Len(t, rec.got, 1)
	assert.Equal(t, Change{Table: TableProfiles, Op: OpUpdate, Key: "m1"}, rec.got[0])

	var nilNotifier *Notifier
	assert.NotPanics(t, func() { nilNotifier.Notify(context.Background(), TableBooks, OpInsert, "") })
}

func TestGatewayStreamsChangesAndPong(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	RegisterRoutes(r, NewGateway(hub, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/changes"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), Change{Table: TableLoans, Op: OpInsert, Key: "7"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgChange, msg.Type)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "7", msg.Data.Key)

	require.NoError(t, conn.WriteJSON(Message{Type: MsgPing}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgPong, msg.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDisconnectAllKeepsHubOpen(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Subscribe(1)
	assert.Equal(t, 1, hub.DisconnectAll())
	_, ok := <-a.C
	assert.False(t, ok)

	b := hub.Subscribe(1)
	defer b.Close()
	require.NoError(t, hub.Publish(context.Background(), Change{Table: TableBooks, Op: OpUpdate}))
	assert.Equal(t, TableBooks, recv(t, b).Table)
}

func TestRelayWithRetryDisconnectsAfterGap(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(4)

	bus := NewRedisBus(nil, "", nil, nil)
	bus.minBackoff, bus.maxBackoff = time.Millisecond, 5*time.Millisecond
	var calls atomic.Int32
	bus.relayFn = func(ctx context.Context, _ *Hub, subscribed func()) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("dial tcp: connection refused")
		case 2:
			subscribed()
			return errors.New("connection reset")
		default:
			subscribed()
			<-ctx.Done()
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.RelayWithRetry(ctx, hub)
		close(done)
	}()

	// 2回目の relay が途切れた時点で購読者は切断される
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not disconnected")
	}
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RelayWithRetry did not stop")
	}
}

func TestRedisBusRelay(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available")
	}

	hub := NewHub(nil)
	sub := hub.Subscribe(4)
	defer sub.Close()

	bus := NewRedisBus(client, "libportal:test:"+time.Now().Format("150405.000000"), nil, nil)
	relayed := make(chan error, 1)
	go func() { relayed <- bus.Relay(ctx, hub) }()

	// Relay の購読確定を待ってから送る
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, bus.channel).Result()
		return err == nil && n[bus.channel] > 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, Change{Table: TableSettings, Op: OpUpdate, Key: "1"}))
	got := recv(t, sub)
	assert.Equal(t, TableSettings, got.Table)
	assert.NotEmpty(t, got.ID)

	cancel()
	assert.NoError(t, <-relayed)
}
