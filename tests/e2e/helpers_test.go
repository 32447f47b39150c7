//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"botchat/internal/domain"
	"botchat/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var handleSeq atomic.Int64

// TestClient issues API calls as one user
type TestClient struct {
	*http.Client
	t    *testing.T
	User domain.User
}

// NewUser registers a fresh user and returns a client acting as them
func NewUser(t *testing.T, displayName string) *TestClient {
	t.Helper()
	tc := &TestClient{Client: &http.Client{Timeout: 30 * time.Second}, t: t}

	handle := fmt.Sprintf("e2e_%d_%d", time.Now().UnixNano()%100000, handleSeq.Add(1))
	status := tc.Do(http.MethodPost, "/api/v1/users", map[string]string{
		"display_name": displayName,
		"handle":       handle,
	}, &tc.User)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, tc.User.ID)
	return tc
}

// Do sends body as JSON and decodes the response into out when non-nil
func (tc *TestClient) Do(method, path string, body, out any) int {
	tc.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(tc.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(tc.t, err)
	req.Header.Set("Content-Type", "application/json")
	if tc.User.ID != "" {
		req.Header.Set(middleware.UserIDHeader, tc.User.ID)
	}

	resp, err := tc.Client.Do(req)
	require.NoError(tc.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(tc.t, err)
	if out != nil && len(raw) > 0 && resp.StatusCode < 300 {
		require.NoError(tc.t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

// OpenRoom pairs the user with a new bot
func (tc *TestClient) OpenRoom() domain.ChatRoom {
	tc.t.Helper()
	var room domain.ChatRoom
	require.Equal(tc.t, http.StatusCreated, tc.Do(http.MethodPost, "/api/v1/rooms", nil, &room))
	return room
}

// Messages returns the room history, newest first
func (tc *TestClient) Messages(roomID string) []domain.Message {
	tc.t.Helper()
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	require.Equal(tc.t, http.StatusOK, tc.Do(http.MethodGet, "/api/v1/rooms/"+roomID+"/messages", nil, &body))
	return body.Messages
}

// WSConn is a websocket connection to one room
type WSConn struct {
	t    *testing.T
	conn *websocket.Conn
}

// Connect opens the room's websocket as this user
func (tc *TestClient) Connect(roomID string) *WSConn {
	tc.t.Helper()
	url := fmt.Sprintf("%s/ws/rooms/%s?user_id=%s", wsURL, roomID, tc.User.ID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(tc.t, err)
	tc.t.Cleanup(func() { conn.Close() })
	return &WSConn{t: tc.t, conn: conn}
}

// Send writes one inbound frame
func (c *WSConn) Send(frame map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

// Next reads frames until one matches, failing after timeout
func (c *WSConn) Next(timeout time.Duration, match func(domain.RoomEvent) bool) domain.RoomEvent {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "no matching event before deadline")

		var ev domain.RoomEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		if match(ev) {
			return ev
		}
	}
}

// NextRaw reads the next frame as generic JSON
func (c *WSConn) NextRaw(timeout time.Duration) map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(timeout)))
	var frame map[string]any
	require.NoError(c.t, c.conn.ReadJSON(&frame))
	return frame
}

func ofType(typ domain.EventType) func(domain.RoomEvent) bool {
	return func(ev domain.RoomEvent) bool { return ev.Type == typ }
}

func chatFrom(senderID string) func(domain.RoomEvent) bool {
	return func(ev domain.RoomEvent) bool {
		return ev.Type == domain.EventChat && ev.SenderID == senderID
	}
}
