package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func subscribe(hub *Hub, analysisID uuid.UUID, buf int) *Client {
	client := &Client{hub: hub, analysisID: analysisID, send: make(chan []byte, buf)}
	hub.register <- client
	return client
}

func receive(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case msg, ok := <-client.send:
		require.True(t, ok, "client channel closed")
		var event Event
		require.NoError(t, json.Unmarshal(msg, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return Event{}
	}
}

func TestHub_AddAndRemoveClient(t *testing.T) {
	hub := startHub(t)
	id := uuid.New()

	client := subscribe(hub, id, 1)
	assert.Eventually(t, func() bool { return hub.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)

	hub.unregister <- client
	assert.Eventually(t, func() bool { return hub.Subscribers(id) == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-client.send
	assert.False(t, ok, "send channel should be closed")
}

func TestHub_BroadcastIsScopedToAnalysis(t *testing.T) {
	hub := startHub(t)
	a, b := uuid.New(), uuid.New()

	clientA := subscribe(hub, a, 10)
	clientB := subscribe(hub, b, 10)
	assert.Eventually(t, func() bool { return hub.Subscribers(a) == 1 && hub.Subscribers(b) == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(a, EventScore, ScoreData{Frame: 63, Score: 0.9, Confidence: 0.8, Label: "REAL"})

	event := receive(t, clientA)
	assert.Equal(t, EventScore, event.Type)
	assert.Equal(t, a, event.AnalysisID)

	select {
	case <-clientB.send:
		t.Fatal("client of another analysis should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	id := uuid.New()

	client := subscribe(hub, id, 1)
	assert.Eventually(t, func() bool { return hub.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(id, EventProgress, ProgressData{Done: 5})
	hub.Broadcast(id, EventProgress, ProgressData{Done: 10})

	assert.Eventually(t, func() bool { return hub.Subscribers(id) == 0 }, time.Second, 5*time.Millisecond)

	// the buffered first event is still readable, then the channel is closed
	event := receive(t, client)
	assert.Equal(t, EventProgress, event.Type)

	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "dropped client should have its channel closed")
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestHub_RunStopsWithContext(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := subscribe(hub, uuid.New(), 1)
	cancel()
	<-done

	_, ok := <-client.send
	assert.False(t, ok)
}

func TestPublisher(t *testing.T) {
	hub := startHub(t)
	id := uuid.New()
	client := subscribe(hub, id, 10)
	assert.Eventually(t, func() bool { return hub.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)

	pub := NewPublisher(hub, id, 1)

	pub.OnScore(domain.NewScoreRecord(70, 0.2), domain.LabelFake)
	event := receive(t, client)
	assert.Equal(t, EventScore, event.Type)
	data := event.Data.(map[string]any)
	assert.Equal(t, "FAKE", data["label"])
	assert.Equal(t, 70.0, data["frame"])

	pub.OnProgress(50, 200)
	event = receive(t, client)
	assert.Equal(t, EventProgress, event.Type)
	assert.Equal(t, 25.0, event.Data.(map[string]any)["percent"])

	frame, err := domain.NewFrame(0, 8, 8, make([]uint8, 8*8*3))
	require.NoError(t, err)
	pub.OnFrame(frame)
	pub.OnFrame(frame) // throttled
	event = receive(t, client)
	assert.Equal(t, EventPreview, event.Type)
	assert.NotEmpty(t, event.Data.(map[string]any)["jpeg"])

	select {
	case <-client.send:
		t.Fatal("second preview should be throttled")
	case <-time.After(100 * time.Millisecond):
	}

	pub.Finish(EventCompleted, map[string]string{"label": "REAL"})
	assert.Equal(t, EventCompleted, receive(t, client).Type)
}

func TestPublisher_PreviewDisabled(t *testing.T) {
	hub := startHub(t)
	id := uuid.New()
	client := subscribe(hub, id, 10)
	assert.Eventually(t, func() bool { return hub.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)

	frame, err := domain.NewFrame(0, 8, 8, make([]uint8, 8*8*3))
	require.NoError(t, err)
	NewPublisher(hub, id, 0).OnFrame(frame)

	select {
	case <-client.send:
		t.Fatal("preview should be disabled")
	case <-time.After(100 * time.Millisecond):
	}
}
