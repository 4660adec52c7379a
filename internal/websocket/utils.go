package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-cbt/internal/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	PingPeriod = (pongWait * 9) / 10
	maxMessage = 64 << 10
)

// Prepare sets the read limit and the keepalive deadline handling. The read
// deadline is pushed forward by every pong and every client message.
func Prepare(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WritePing sends a keepalive ping.
func WritePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WriteClose sends a normal close frame with reason.
func WriteClose(conn *websocket.Conn, reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// NewError builds a typed ErrorResponse.
func NewError(code response.ErrCode, redirect string) ErrorResponse {
	return ErrorResponse{
		Event:    EventError,
		Code:     code,
		Error:    response.GetMessage(code),
		Redirect: redirect,
	}
}

// ReadAction reads one client message and returns its action with the raw
// payload for full decoding. Only connection errors are returned; a message
// that is not JSON yields an empty action.
func ReadAction(conn *websocket.Conn) (Action, []byte, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", raw, nil
	}
	return env.Action, raw, nil
}
