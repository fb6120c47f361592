// Package httpapi implements the external HTTP/WebSocket surface: the
// multi-topic WebSocket Topic Manager (§4.C) and the admin/trigger HTTP
// routes that sit alongside it. Connection lifecycle and the ping/pong
// watchdog are grounded on the teacher's internal/httpapi/websocket.go;
// everything above the wire framing is new, since the teacher streamed a
// single workflow_id's events rather than a multi-topic envelope protocol.
package httpapi

import (
	"encoding/json"
	"time"
)

// EnvelopeVersion is the wire protocol version stamped into every frame.
const EnvelopeVersion = 1

// Envelope is the single frame shape exchanged over the WebSocket, both
// ingress and egress.
type Envelope struct {
	V     int                    `json:"v"`
	Type  string                 `json:"type"`
	Topic string                 `json:"topic,omitempty"`
	ReqID string                 `json:"req_id,omitempty"`
	TS    int64                  `json:"ts"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// newEnvelope builds an egress Envelope stamped with the current time.
func newEnvelope(typ, topic string, data map[string]interface{}) Envelope {
	return Envelope{V: EnvelopeVersion, Type: typ, Topic: topic, TS: time.Now().UnixMilli(), Data: data}
}

func (e Envelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Ingress frame types a client may send.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
	TypeSubscribeThread = "subscribe_thread" // deprecated; always answered with an error envelope
	TypeSendMessage     = "send_message"
)

// Egress frame types the server may send.
const (
	TypeSubscribeAck        = "subscribe_ack"
	TypeSubscribeError      = "subscribe_error"
	TypeError               = "error"
	TypeAgentState          = "agent_state"
	TypeUserUpdate          = "user_update"
	TypeThreadMessage       = "thread_message"
	TypeNodeState           = "node_state"
	TypeExecutionFinished   = "execution_finished"
	TypeWorkflowProgress    = "workflow_progress"
	TypeWorkerToolStarted   = "worker_tool_started"
	TypeWorkerToolCompleted = "worker_tool_completed"
	TypeWorkerToolFailed    = "worker_tool_failed"
)

// subscribe_error / error codes.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeInvalidFormat = "INVALID_FORMAT"
	CodeUnknown       = "UNKNOWN"
	CodeDeprecated    = "DEPRECATED"
)

// WebSocket close codes per §5/§7: 1002 for protocol errors, 1008 for
// authorization failures.
const (
	closeProtocolError      = 1002
	closeAuthorizationError = 1008
)
