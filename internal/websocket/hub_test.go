package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanishmail/vanishmail-backend/internal/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receiveFrame(t *testing.T, client *Client) Frame {
	t.Helper()
	select {
	case data, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func assertClosed(t *testing.T, client *Client) {
	t.Helper()
	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "expected send channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestHub_PublishToSubscribedToken(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil, "token-1", nil)
	hub.Register(client)

	summary := models.EmailSummary{
		ID:         "email-1",
		From:       "sender@example.com",
		Subject:    "hi",
		ReceivedAt: time.Now().UTC(),
	}
	hub.Publish("token-1", summary)

	frame := receiveFrame(t, client)
	assert.Equal(t, FrameTypeNewEmail, frame.Type)

	payload, err := json.Marshal(frame.Payload)
	require.NoError(t, err)
	var got models.EmailSummary
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "email-1", got.ID)
	assert.Equal(t, "sender@example.com", got.From)
}

func TestHub_PublishToUnknownTokenIsDropped(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil, "token-1", nil)
	hub.Register(client)

	hub.Publish("other-token", models.EmailSummary{ID: "email-1"})

	select {
	case <-client.send:
		t.Fatal("client must not receive frames for other tokens")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_LastConnectionWins(t *testing.T) {
	hub := startHub(t)

	first := NewClient(hub, nil, "token-1", nil)
	hub.Register(first)

	second := NewClient(hub, nil, "token-1", nil)
	hub.Register(second)

	// The displaced connection is closed
	assertClosed(t, first)

	hub.Publish("token-1", models.EmailSummary{ID: "email-1"})
	frame := receiveFrame(t, second)
	assert.Equal(t, FrameTypeNewEmail, frame.Type)
}

func TestHub_UnregisterDisplacedClientKeepsSuccessor(t *testing.T) {
	hub := startHub(t)

	first := NewClient(hub, nil, "token-1", nil)
	hub.Register(first)
	second := NewClient(hub, nil, "token-1", nil)
	hub.Register(second)
	assertClosed(t, first)

	// The displaced client's teardown must not evict its successor
	hub.Unregister(first)

	hub.Publish("token-1", models.EmailSummary{ID: "email-1"})
	frame := receiveFrame(t, second)
	assert.Equal(t, FrameTypeNewEmail, frame.Type)
}

func TestHub_DisplacedClientLateWriteIsDropped(t *testing.T) {
	hub := startHub(t)

	first := NewClient(hub, nil, "token-1", nil)
	hub.Register(first)
	second := NewClient(hub, nil, "token-1", nil)
	hub.Register(second)
	assertClosed(t, first)

	// The displaced client's read loop may still answer pings after the
	// hub closed its channel; the write must be dropped, not crash
	first.sendFrame(Frame{Type: FrameTypePong})
	first.sendFrame(Frame{Type: FrameTypeConnected})

	hub.Publish("token-1", models.EmailSummary{ID: "email-1"})
	frame := receiveFrame(t, second)
	assert.Equal(t, FrameTypeNewEmail, frame.Type)
}

func TestHub_CloseToken(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil, "token-1", nil)
	hub.Register(client)

	hub.CloseToken("token-1")
	assertClosed(t, client)
}

func TestHub_StopClosesAllClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	first := NewClient(hub, nil, "token-1", nil)
	second := NewClient(hub, nil, "token-2", nil)
	hub.Register(first)
	hub.Register(second)

	hub.Stop()
	assertClosed(t, first)
	assertClosed(t, second)
}
