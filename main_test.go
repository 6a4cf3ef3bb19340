package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"okolitsa/internal/models"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil reads frames until one matches the wanted event, skipping
// unrelated traffic like presence broadcasts.
func readUntil(t *testing.T, conn *websocket.Conn, event string) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", event)
		if ev.Event == event {
			return ev
		}
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wireEvent{Event: event, Data: payload}))
}

func TestIntegration(t *testing.T) {
	dbFile := "integration_test.db"
	_ = os.Remove(dbFile)
	defer func() { _ = os.Remove(dbFile) }()

	apiAddr := "127.0.0.1:8891"
	uploads := t.TempDir()

	_ = os.Setenv("OKOLITSA_DB", dbFile)
	_ = os.Setenv("API_ADDR", apiAddr)
	_ = os.Setenv("UPLOADS_PATH", uploads)
	defer func() {
		_ = os.Unsetenv("OKOLITSA_DB")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("UPLOADS_PATH")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/api/files/none", apiAddr), 20)

	wsURL := fmt.Sprintf("ws://%s/api/ws", apiAddr)

	// Step 1: Connect and register two users
	alice, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = alice.Close() }()

	sendEvent(t, alice, models.EventRegister, "alice")

	bob, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = bob.Close() }()

	sendEvent(t, bob, models.EventRegister, "bob")

	// Alice observes bob coming online.
	var presence models.Presence
	for {
		ev := readUntil(t, alice, models.EventUserStatus)
		require.NoError(t, json.Unmarshal(ev.Data, &presence))
		if presence.Identity == "bob" {
			break
		}
	}
	require.True(t, presence.Online)

	// Step 2: Private message bob -> alice
	sendEvent(t, bob, models.EventPrivateMessage, map[string]string{
		"from": "bob", "to": "alice", "text": "hello **alice**",
	})

	var sent models.Message
	ev := readUntil(t, bob, models.EventMessageSent)
	require.NoError(t, json.Unmarshal(ev.Data, &sent))
	require.NotZero(t, sent.ID)
	require.False(t, sent.Read)
	require.Contains(t, sent.HTML, "<strong>alice</strong>")

	var received models.Message
	ev = readUntil(t, alice, models.EventPrivateMessage)
	require.NoError(t, json.Unmarshal(ev.Data, &received))
	require.Equal(t, sent.ID, received.ID)

	// Step 3: Alice marks the chat read, bob gets the confirmation
	sendEvent(t, alice, models.EventMarkRead, map[string]string{
		"from": "alice", "to": "bob",
	})

	ev = readUntil(t, bob, models.EventMessagesReadConfirm)
	var confirm struct {
		To       string           `json:"to"`
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &confirm))
	require.Equal(t, "alice", confirm.To)
	require.Len(t, confirm.Messages, 1)
	require.Equal(t, sent.ID, confirm.Messages[0].ID)

	// Step 4: Latest chats reflects the read state
	sendEvent(t, alice, models.EventLatestChats, map[string]string{"name": "alice"})
	ev = readUntil(t, alice, models.EventLatestChats)
	var chats []models.ChatSummary
	require.NoError(t, json.Unmarshal(ev.Data, &chats))
	require.Len(t, chats, 1)
	require.Equal(t, "bob", chats[0].Peer)
	require.Zero(t, chats[0].UnreadCount)

	// Step 5: Disconnect bob, alice sees the offline transition
	require.NoError(t, bob.Close())
	for {
		ev = readUntil(t, alice, models.EventUserStatus)
		require.NoError(t, json.Unmarshal(ev.Data, &presence))
		if presence.Identity == "bob" && !presence.Online {
			break
		}
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
