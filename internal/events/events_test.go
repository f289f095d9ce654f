package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	queue string
	msg   interface{}
	err   error
}

func (f *fakePublisher) Publish(queue string, msg interface{}) error {
	f.queue, f.msg = queue, msg
	return f.err
}

func TestRabbitSink(t *testing.T) {
	pub := &fakePublisher{}
	ev := TickEvent{BotID: "b1", RunID: "r1", OK: true}
	require.NoError(t, NewRabbitSink(pub).Publish(context.Background(), ev))
	assert.Equal(t, QueueTickEvents, pub.queue)
	assert.Equal(t, ev, pub.msg)

	pub.err = errors.New("channel closed")
	assert.ErrorContains(t, NewRabbitSink(pub).Publish(context.Background(), ev), "channel closed")
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("b1")
	defer cancel()

	bad := &fakePublisher{err: errors.New("down")}
	err := MultiSink{hub, nil, NewRabbitSink(bad), Discard{}}.Publish(context.Background(), TickEvent{BotID: "b1"})
	assert.ErrorContains(t, err, "down")

	select {
	case ev := <-ch:
		assert.Equal(t, "b1", ev.BotID)
	default:
		t.Fatal("hub did not receive event")
	}
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe("b1")
	_, cancelB := hub.Subscribe("b2")
	assert.Equal(t, 1, hub.Subscribers("b1"))

	require.NoError(t, hub.Publish(context.Background(), TickEvent{BotID: "b1", Steps: 3}))
	assert.Equal(t, 3, (<-a).Steps)

	// A full buffer drops instead of blocking.
	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, hub.Publish(context.Background(), TickEvent{BotID: "b1"}))
	}
	assert.Len(t, a, subscriberBuffer)

	cancelA()
	cancelA()
	cancelB()
	assert.Equal(t, 0, hub.Subscribers("b1"))
	assert.Equal(t, 0, hub.Subscribers("b2"))
}

func TestHubStream(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Stream(r.Context(), conn, "b1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("b1") == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), TickEvent{BotID: "b1", RunID: "r9", TradeExecuted: true}))

	var got TickEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "r9", got.RunID)
	assert.True(t, got.TradeExecuted)
}
