package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEvents(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/runs/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.PublishRun(sampleRuns()[0])
	s.PublishRun(nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventRunFinished, ev.Type)
	assert.Equal(t, "run-2", ev.Run.ID)
	assert.Equal(t, "open-cart", ev.Run.FailedStep)
	assert.True(t, now.Equal(ev.At))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	s, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/runs/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	// A subscriber nobody drains.
	sub := &subscriber{conn: conn, send: make(chan Event, 1)}
	h.add(sub)
	h.Publish(Event{Type: EventRunFinished})
	assert.Equal(t, 1, h.Clients())
	h.Publish(Event{Type: EventRunFinished})
	assert.Equal(t, 0, h.Clients())

	_, open := <-sub.send
	assert.True(t, open, "the queued event is still delivered")
	_, open = <-sub.send
	assert.False(t, open)
}
