package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt over WebSocket: lifecycle events go out,
// answer/navigate/submit actions come in.
type WSHandler struct {
	attempts       *service.AttemptService
	preAttemptPath string
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, preAttemptPath string, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts:       attempts,
		preAttemptPath: preAttemptPath,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/papers/:paper_id/stream?token=...
// The attempt must have been started over REST first.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	paperID := c.Param("paper_id")
	if !validator.ValidID(paperID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	key := attempt.Key{StudentID: claims.UserID, PaperID: paperID}

	// SECURITY: Only students with a live attempt on this paper may stream it.
	events, unsubscribe, err := h.attempts.Subscribe(key)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		return
	}
	defer unsubscribe()

	view, err := h.attempts.View(key, false)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	wsLog := h.log.With().
		Int("student_id", key.StudentID).
		Str("paper_id", key.PaperID).
		Logger()
	wsLog.Info().Msg("Student connected")

	out := make(chan interface{}, 16)
	stop := make(chan struct{})
	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writePump(conn, events, out, stop, wsLog)
	}()
	defer func() {
		close(stop)
		<-written
	}()

	send := func(v interface{}) bool {
		select {
		case out <- v:
			return true
		case <-written:
			return false
		}
	}
	send(ws.SnapshotResponse{Event: ws.EventSnapshot, Attempt: view})

	for {
		action, raw, err := ws.ReadAction(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Err(err).Msg("Connection closed")
			}
			return
		}

		if !send(h.dispatch(c, key, action, raw, wsLog)) {
			return
		}
	}
}

// dispatch runs one client action and returns the frame to send back.
func (h *WSHandler) dispatch(c *gin.Context, key attempt.Key, action ws.Action, raw []byte, log zerolog.Logger) interface{} {
	switch action {
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err := json.Unmarshal(raw, &req); err != nil || !validator.ValidID(req.QID) {
			return ws.NewError(response.ErrInvalidPayload, "")
		}
		view, err := h.attempts.Answer(key, req.QID, req.Value)
		if err != nil {
			return h.errorFrame(err)
		}
		return ws.AckResponse{Event: ws.EventAck, Action: action, QID: req.QID, CurrentIndex: view.CurrentIndex}

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return ws.NewError(response.ErrInvalidPayload, "")
		}
		index, err := h.attempts.Navigate(key, model.NavigateRequest{Action: req.Nav, Index: req.Index})
		if err != nil {
			return h.errorFrame(err)
		}
		return ws.AckResponse{Event: ws.EventAck, Action: action, CurrentIndex: index}

	case ws.ActionSubmit:
		view, err := h.attempts.Submit(c.Request.Context(), key)
		if err != nil {
			if !isSessionError(err) {
				log.Warn().Err(err).Msg("Submit failed")
				return ws.NewError(response.ErrSubmitFailed, "")
			}
			return h.errorFrame(err)
		}
		return ws.AckResponse{Event: ws.EventAck, Action: action, CurrentIndex: view.CurrentIndex}

	default:
		log.Warn().Str("action", string(action)).Msg("Unknown action")
		return ws.NewError(response.ErrInvalidPayload, "")
	}
}

func (h *WSHandler) errorFrame(err error) ws.ErrorResponse {
	f := classifyAttemptError(err)
	if f.leave {
		return ws.NewError(f.code, h.preAttemptPath)
	}
	return ws.NewError(f.code, "")
}

// writePump is the connection's only writer. It ends the stream after the
// attempt is submitted or its subscription goes away.
func (h *WSHandler) writePump(conn *websocket.Conn, events <-chan model.AttemptEvent, out <-chan interface{}, stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()
	// Unblocks the reader when the writer gives up first.
	defer conn.Close()

	for {
		select {
		case <-stop:
			return
		case msg := <-out:
			if err := ws.WriteTyped(conn, msg); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteClose(conn, "attempt closed")
				return
			}
			if err := ws.WriteTyped(conn, ev); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				return
			}
			if ev.Kind == model.EventSubmitted {
				h.drain(conn, out)
				_ = ws.WriteClose(conn, "attempt submitted")
				return
			}
		case <-ticker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// drain flushes replies already queued, such as the submit ack.
func (h *WSHandler) drain(conn *websocket.Conn, out <-chan interface{}) {
	for {
		select {
		case msg := <-out:
			_ = ws.WriteTyped(conn, msg)
		default:
			return
		}
	}
}
