package relay

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicParty/internal/domain"
)

func recv(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope")
	}
	return domain.Envelope{}
}

func candidate(from, to domain.PeerID, i int) domain.Envelope {
	env, _ := domain.NewEnvelope(from, to, domain.KindCandidate, domain.SignalPayload{})
	env.ID = string(rune('a' + i))
	return env
}

func TestMemoryDeliversMatching(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ch, cancel, err := m.Subscribe(ctx, domain.EnvelopeFilter{ToID: "B", FromID: "A"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish(ctx, candidate("C", "B", 0)))
	require.NoError(t, m.Publish(ctx, candidate("A", "C", 1)))
	require.NoError(t, m.Publish(ctx, candidate("A", "B", 2)))

	env := recv(t, ch)
	assert.Equal(t, "c", env.ID)
	assert.False(t, env.CreatedAt.IsZero())
	assert.Len(t, m.Published(), 3)
}

func TestMemoryReplaysSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Unix(1000, 0)
	m.now = func() time.Time { return base }
	require.NoError(t, m.Publish(ctx, candidate("A", "B", 0)))
	m.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, m.Publish(ctx, candidate("A", "B", 1)))

	ch, cancel, err := m.Subscribe(ctx, domain.EnvelopeFilter{ToID: "B", Since: base.Add(time.Second)})
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, "b", recv(t, ch).ID)

	all, cancelAll, err := m.Subscribe(ctx, domain.EnvelopeFilter{ToID: "B"})
	require.NoError(t, err)
	defer cancelAll()
	assert.Equal(t, "a", recv(t, all).ID)
	assert.Equal(t, "b", recv(t, all).ID)
}

func TestMemoryFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithDuplicates(), WithShuffle(rand.New(rand.NewPCG(1, 2))))
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Publish(ctx, candidate("A", "B", i)))
	}
	ch, cancel, err := m.Subscribe(ctx, domain.EnvelopeFilter{ToID: "B"})
	require.NoError(t, err)
	defer cancel()

	seen := map[string]int{}
	for i := 0; i < 20; i++ {
		seen[recv(t, ch).ID]++
	}
	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 2, n, id)
	}
}

func TestMemoryCancelCloses(t *testing.T) {
	m := NewMemory()
	ch, cancel, err := m.Subscribe(context.Background(), domain.EnvelopeFilter{ToID: "B"})
	require.NoError(t, err)
	cancel()
	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	require.NoError(t, m.Publish(context.Background(), candidate("A", "B", 0)))
}

// echoServer sends every published envelope back and answers pings.
func echoServer(t *testing.T, frames chan<- Frame) *httptest.Server {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "B", r.URL.Query().Get("id"))
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := ParseFrame(data)
			if err != nil {
				return
			}
			select {
			case frames <- f:
			default:
			}
			var out Frame
			switch f.Type {
			case FramePublish:
				out = Frame{Type: FrameEnvelope, Envelope: f.Envelope}
			case FramePing:
				out = Frame{Type: FramePong}
			default:
				continue
			}
			b, _ := out.Marshal()
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}))
}

func TestClientRoundTrip(t *testing.T) {
	frames := make(chan Frame, 32)
	srv := echoServer(t, frames)
	defer srv.Close()

	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(ctx, url, "B", Options{PingPeriod: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	ch, cancel, err := c.Subscribe(ctx, domain.EnvelopeFilter{ToID: "B"})
	require.NoError(t, err)
	defer cancel()

	sub := <-frames
	assert.Equal(t, FrameSubscribe, sub.Type)
	require.NotNil(t, sub.Filter)
	assert.Equal(t, domain.PeerID("B"), sub.Filter.ToID)

	require.NoError(t, c.Publish(ctx, candidate("X", "Z", 0)))
	require.NoError(t, c.Publish(ctx, candidate("A", "B", 1)))
	assert.Equal(t, "b", recv(t, ch).ID)

	require.Eventually(t, func() bool {
		for {
			select {
			case f := <-frames:
				if f.Type == FramePing {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, c.Publish(ctx, candidate("A", "B", 2)), ErrClientClosed)
}

func TestDialFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/api/ws/relay", "B", Options{})
	require.Error(t, err)
}
