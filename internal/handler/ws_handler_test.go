package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-cbt/internal/model"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

type frame struct {
	Event        string             `json:"event"`
	Code         string             `json:"code"`
	QID          string             `json:"q_id"`
	CurrentIndex int                `json:"current_index"`
	Trigger      string             `json:"trigger"`
	Attempt      *model.AttemptView `json:"attempt"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(raw, &f), string(raw))
	return f
}

func dialStream(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/papers/paper-1/stream?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestStreamRequiresLiveAttempt(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	_, resp, err := dialStream(t, srv, s.token(t, 7))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamActionsAndEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	tok := s.token(t, 7)

	code, _ := s.do(t, http.MethodPost, attemptPath, tok, "")
	require.Equal(t, http.StatusOK, code)

	conn, _, err := dialStream(t, srv, tok)
	require.NoError(t, err)
	defer conn.Close()

	snap := readFrame(t, conn)
	require.Equal(t, string(ws.EventSnapshot), snap.Event)
	require.NotNil(t, snap.Attempt)
	assert.Equal(t, "attempt-9", snap.Attempt.AttemptID)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	assert.Equal(t, string(ws.EventPong), readFrame(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "answer", "q_id": "q1", "value": map[string]int{"option": 2},
	}))
	ack := readFrame(t, conn)
	assert.Equal(t, string(ws.EventAck), ack.Event)
	assert.Equal(t, "q1", ack.QID)
	assert.Equal(t, 0, ack.CurrentIndex)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "answer", "q_id": "q1", "value": map[string]bool{"bool": true},
	}))
	bad := readFrame(t, conn)
	assert.Equal(t, string(ws.EventError), bad.Event)
	assert.Equal(t, "INVALID_ANSWER", bad.Code)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "navigate", "nav": "next"}))
	nav := readFrame(t, conn)
	assert.Equal(t, string(ws.EventAck), nav.Event)
	assert.Equal(t, 1, nav.CurrentIndex)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "submit"}))

	var submitted *frame
	for submitted == nil {
		f := readFrame(t, conn)
		if f.Event == string(model.EventSubmitted) {
			submitted = &f
		}
	}
	assert.Equal(t, "MANUAL", submitted.Trigger)
	assert.Equal(t, []string{"q1"}, s.backend.savedIDs())
}
