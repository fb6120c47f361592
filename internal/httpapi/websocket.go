package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/auth"
	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/runner"
)

const (
	wsReadLimit    = 512 * 1024
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // reverse proxy enforces origin in prod
}

// Server exposes the TopicManager over a single /ws endpoint. Grounded on
// the teacher's StreamingHandler.handleWS (upgrade, ping/pong watchdog,
// reader/writer pump goroutines), generalized from one workflow_id filter
// channel to Envelope-dispatched multi-topic subscribe/unsubscribe.
type Server struct {
	tm     *TopicManager
	store  *db.Client
	runner *runner.Runner
	auth   *auth.Middleware
	logger *zap.Logger
}

// NewServer builds a Server.
func NewServer(tm *TopicManager, store *db.Client, r *runner.Runner, authMW *auth.Middleware, logger *zap.Logger) *Server {
	return &Server{tm: tm, store: store, runner: r, auth: authMW, logger: logger}
}

// RegisterWebSocket mounts /ws on mux, behind the auth middleware so every
// connection arrives with a UserContext already resolved (bearer header or
// ?access_token= query param, since browsers cannot set headers on the
// upgrade handshake).
func (s *Server) RegisterWebSocket(mux *http.ServeMux) {
	mux.Handle("/ws", s.auth.HTTPMiddleware(http.HandlerFunc(s.handleWS)))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userCtx, _ := auth.GetUserContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := s.tm.Register(userCtx)
	defer func() {
		s.tm.Unregister(c)
		c.Close()
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	stop := make(chan struct{})
	go s.writePump(conn, c, stop)
	s.readPump(r.Context(), conn, c)
	close(stop)
}

// writePump is the only goroutine allowed to call conn.WriteMessage, since
// gorilla/websocket forbids concurrent writers on one connection.
func (s *Server) writePump(conn *websocket.Conn, c *Client, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, c *Client) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in Envelope
		if err := json.Unmarshal(raw, &in); err != nil {
			s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeInvalidFormat, "message": "malformed envelope"}))
			s.closeWithCode(conn, closeProtocolError, "invalid payload")
			return
		}
		if closed := s.dispatch(ctx, conn, c, in); closed {
			return
		}
	}
}

// dispatch handles one ingress Envelope and reports whether it closed the
// connection (an authorization failure per §4.C/§7).
func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, c *Client, in Envelope) bool {
	switch in.Type {
	case TypePing:
		s.send(c, newEnvelope(TypePong, "", nil))
	case TypePong:
		// application-level pongs are informational only; the control-frame
		// pong handler already refreshed the read deadline.
	case TypeSubscribeThread:
		s.sendSubscribeError(c, in.ReqID, "", CodeDeprecated, "subscribe_thread is deprecated; use subscribe with a topic")
	case TypeSubscribe:
		return s.handleSubscribe(ctx, conn, c, in)
	case TypeUnsubscribe:
		s.handleUnsubscribe(c, in)
	case TypeSendMessage:
		s.handleSendMessage(ctx, c, in)
	default:
		s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeUnknown, "message": fmt.Sprintf("unrecognized frame type %q", in.Type)}))
	}
	return false
}

func (s *Server) handleSubscribe(ctx context.Context, conn *websocket.Conn, c *Client, in Envelope) bool {
	topics, ok := stringSlice(in.Data["topics"])
	if !ok || len(topics) == 0 {
		s.sendSubscribeError(c, in.ReqID, "", CodeInvalidFormat, "subscribe requires a non-empty topics list")
		return false
	}

	outcomes, initial := s.tm.Subscribe(ctx, c, topics)

	var acked []string
	mustClose := false
	for _, o := range outcomes {
		if o.OK {
			acked = append(acked, o.Topic)
			continue
		}
		s.sendSubscribeError(c, in.ReqID, o.Topic, o.Code, o.Message)
		if o.Code == CodeForbidden || o.Code == CodeUnauthorized {
			mustClose = true
		}
	}

	if len(acked) > 0 {
		s.send(c, Envelope{V: EnvelopeVersion, Type: TypeSubscribeAck, ReqID: in.ReqID, TS: time.Now().UnixMilli(), Data: map[string]interface{}{"topics": acked}})
		for _, env := range initial {
			s.send(c, env)
		}
	}

	if mustClose {
		s.closeWithCode(conn, closeAuthorizationError, "subscription forbidden")
		return true
	}
	return false
}

func (s *Server) handleUnsubscribe(c *Client, in Envelope) {
	topics, ok := stringSlice(in.Data["topics"])
	if !ok || len(topics) == 0 {
		s.sendSubscribeError(c, in.ReqID, "", CodeInvalidFormat, "unsubscribe requires a non-empty topics list")
		return
	}
	s.tm.Unsubscribe(c, topics)
}

// handleSendMessage persists a user turn on an existing thread and kicks
// off a runner.Run in the background; progress flows back to the caller
// through the usual user:<id>/agent:<id> topic broadcasts rather than a
// direct reply.
func (s *Server) handleSendMessage(ctx context.Context, c *Client, in Envelope) {
	threadIDStr, _ := in.Data["thread_id"].(string)
	content, _ := in.Data["content"].(string)
	threadID, err := uuid.Parse(threadIDStr)
	if err != nil || content == "" {
		s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeInvalidFormat, "message": "send_message requires thread_id and content", "req_id": in.ReqID}))
		return
	}

	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeNotFound, "message": "thread not found", "req_id": in.ReqID}))
		return
	}
	agent, err := s.store.GetAgent(ctx, thread.AgentID)
	if err != nil {
		s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeNotFound, "message": "agent not found", "req_id": in.ReqID}))
		return
	}
	if c.User == nil || (!c.User.IsAdmin() && agent.OwnerID != c.User.UserID) {
		s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeForbidden, "message": "thread belongs to another user", "req_id": in.ReqID}))
		return
	}

	msg := &db.ThreadMessage{ThreadID: thread.ID, Role: db.RoleUserMsg, Content: content}
	if err := s.store.AppendThreadMessage(ctx, msg); err != nil {
		s.logger.Error("failed to persist send_message content", zap.Error(err))
		s.send(c, newEnvelope(TypeError, "", map[string]interface{}{"code": CodeUnknown, "message": "failed to persist message", "req_id": in.ReqID}))
		return
	}

	go func() {
		if _, err := s.runner.Run(context.Background(), agent, thread, runner.Config{Streaming: true, Trigger: db.TriggerManual}); err != nil {
			s.logger.Warn("send_message-triggered run failed", zap.Error(err), zap.String("thread_id", thread.ID.String()))
		}
	}()
}

func (s *Server) send(c *Client, env Envelope) {
	payload, err := env.marshal()
	if err != nil {
		s.logger.Error("failed to marshal envelope for direct send", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		// slow consumer; BroadcastToTopic's failed-send eviction handles the
		// general case, but a direct reply has no topic to evict from here.
	}
}

func (s *Server) sendSubscribeError(c *Client, reqID, topic, code, message string) {
	s.send(c, Envelope{
		V:     EnvelopeVersion,
		Type:  TypeSubscribeError,
		Topic: topic,
		ReqID: reqID,
		TS:    time.Now().UnixMilli(),
		Data:  map[string]interface{}{"code": code, "message": message},
	})
}

func (s *Server) closeWithCode(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func stringSlice(v interface{}) ([]string, bool) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
