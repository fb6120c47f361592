package httpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/auth"
	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/metrics"
)

const (
	topicOps                = "ops:events"
	prefixAgent             = "agent:"
	prefixUser              = "user:"
	prefixWorkflowExecution = "workflow_execution:"
)

// Client is one connected WebSocket session's handle into the TopicManager.
// The websocket handler owns the underlying *websocket.Conn; TopicManager
// only ever touches send.
type Client struct {
	ID   string
	User *auth.UserContext

	send      chan []byte
	closeOnce sync.Once
}

// Close closes c's outbound channel. Safe to call more than once or
// concurrently with a writer pump draining send.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// subscribeOutcome is the per-topic result of a subscribe/unsubscribe
// request, folded into a subscribe_ack or subscribe_error envelope.
type subscribeOutcome struct {
	Topic   string
	OK      bool
	Code    string
	Message string
}

// TopicManager is the process-wide WebSocket fan-out hub (§4.C): one
// instance is shared across every upgraded connection and every platform
// event bridged from internal/eventbus.
type TopicManager struct {
	store  *db.Client
	bus    *eventbus.Bus
	logger *zap.Logger

	mu            sync.RWMutex
	connections   map[string]*Client
	subscriptions map[string]map[string]bool // topic -> client ids
	clientTopics  map[string]map[string]bool // client id -> topics
}

// NewTopicManager builds a TopicManager and subscribes it to every
// eventbus.EventKind that has a topic home (§4.C/§4.A).
func NewTopicManager(store *db.Client, bus *eventbus.Bus, logger *zap.Logger) *TopicManager {
	tm := &TopicManager{
		store:         store,
		bus:           bus,
		logger:        logger,
		connections:   make(map[string]*Client),
		subscriptions: make(map[string]map[string]bool),
		clientTopics:  make(map[string]map[string]bool),
	}
	tm.bridgeEvents()
	return tm
}

// Register admits a new connection, returning its Client handle.
func (tm *TopicManager) Register(user *auth.UserContext) *Client {
	c := &Client{ID: uuid.New().String(), User: user, send: make(chan []byte, 64)}
	tm.mu.Lock()
	tm.connections[c.ID] = c
	tm.clientTopics[c.ID] = make(map[string]bool)
	tm.mu.Unlock()
	metrics.WSConnectionsActive.Inc()
	return c
}

// Unregister removes c from every subscription set and forgets it.
func (tm *TopicManager) Unregister(c *Client) {
	tm.mu.Lock()
	tm.removeLocked(c.ID)
	tm.mu.Unlock()
	metrics.WSConnectionsActive.Dec()
}

// removeLocked assumes tm.mu is held for writing.
func (tm *TopicManager) removeLocked(clientID string) {
	for topic := range tm.clientTopics[clientID] {
		tm.dropSubscriberLocked(topic, clientID)
	}
	delete(tm.clientTopics, clientID)
	delete(tm.connections, clientID)
}

func (tm *TopicManager) dropSubscriberLocked(topic, clientID string) {
	set, ok := tm.subscriptions[topic]
	if !ok || !set[clientID] {
		return
	}
	delete(set, clientID)
	metrics.WSSubscriptionsActive.WithLabelValues(topicPrefix(topic)).Dec()
	if len(set) == 0 {
		delete(tm.subscriptions, topic)
	}
}

func topicPrefix(topic string) string {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[:i]
	}
	return topic
}

// Subscribe authorizes and records topics for c. It returns one outcome per
// requested topic plus any initial-state envelopes to ship alongside the
// subscribe_ack (current agent/user/execution state, §4.C).
func (tm *TopicManager) Subscribe(ctx context.Context, c *Client, topics []string) ([]subscribeOutcome, []Envelope) {
	outcomes := make([]subscribeOutcome, 0, len(topics))
	var initial []Envelope

	for _, topic := range topics {
		ok, code, msg := tm.authorize(ctx, c, topic)
		if !ok {
			outcomes = append(outcomes, subscribeOutcome{Topic: topic, Code: code, Message: msg})
			continue
		}

		tm.mu.Lock()
		set := tm.subscriptions[topic]
		if set == nil {
			set = make(map[string]bool)
			tm.subscriptions[topic] = set
		}
		isNew := !set[c.ID]
		set[c.ID] = true
		tm.clientTopics[c.ID][topic] = true
		tm.mu.Unlock()
		if isNew {
			metrics.WSSubscriptionsActive.WithLabelValues(topicPrefix(topic)).Inc()
		}

		outcomes = append(outcomes, subscribeOutcome{Topic: topic, OK: true})
		if env, ok := tm.initialState(ctx, topic); ok {
			initial = append(initial, env)
		}
	}
	return outcomes, initial
}

// Unsubscribe drops topics for c; topics c was never subscribed to are a
// no-op rather than an error.
func (tm *TopicManager) Unsubscribe(c *Client, topics []string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, topic := range topics {
		tm.dropSubscriberLocked(topic, c.ID)
		delete(tm.clientTopics[c.ID], topic)
	}
}

// authorize decides whether c may subscribe to topic, per the topic access
// rules in §4.C and the ownership rules in §2.
func (tm *TopicManager) authorize(ctx context.Context, c *Client, topic string) (ok bool, code, msg string) {
	if c.User == nil {
		return false, CodeUnauthorized, "connection is not authenticated"
	}

	switch {
	case topic == topicOps:
		if !c.User.IsAdmin() {
			return false, CodeForbidden, "ops:events requires an admin role"
		}
		return true, "", ""

	case strings.HasPrefix(topic, prefixAgent):
		id, err := uuid.Parse(strings.TrimPrefix(topic, prefixAgent))
		if err != nil {
			return false, CodeInvalidFormat, "agent topic must be agent:<uuid>"
		}
		agent, err := tm.store.GetAgent(ctx, id)
		if err != nil {
			return false, CodeNotFound, "agent not found"
		}
		if !c.User.IsAdmin() && agent.OwnerID != c.User.UserID {
			return false, CodeForbidden, "agent belongs to another user"
		}
		return true, "", ""

	case strings.HasPrefix(topic, prefixUser):
		id, err := uuid.Parse(strings.TrimPrefix(topic, prefixUser))
		if err != nil {
			return false, CodeInvalidFormat, "user topic must be user:<uuid>"
		}
		if !c.User.IsAdmin() && id != c.User.UserID {
			return false, CodeForbidden, "cannot subscribe to another user's stream"
		}
		return true, "", ""

	case strings.HasPrefix(topic, prefixWorkflowExecution):
		id, err := uuid.Parse(strings.TrimPrefix(topic, prefixWorkflowExecution))
		if err != nil {
			return false, CodeInvalidFormat, "workflow_execution topic must be workflow_execution:<uuid>"
		}
		exec, err := tm.store.GetExecution(ctx, id)
		if err != nil {
			return false, CodeNotFound, "execution not found"
		}
		if !c.User.IsAdmin() {
			wf, werr := tm.store.GetWorkflow(ctx, exec.WorkflowID)
			if werr != nil || wf.OwnerID != c.User.UserID {
				return false, CodeForbidden, "execution belongs to another user's workflow"
			}
		}
		return true, "", ""

	default:
		return false, CodeUnknown, fmt.Sprintf("unrecognized topic %q", topic)
	}
}

// initialState builds the "current state" envelope subscribe_ack ships
// alongside a freshly authorized subscription, where the topic has one
// (agent_state, user_update, or a replayed execution_finished for an
// already-FINISHED execution, §4.C).
func (tm *TopicManager) initialState(ctx context.Context, topic string) (Envelope, bool) {
	switch {
	case strings.HasPrefix(topic, prefixAgent):
		id, err := uuid.Parse(strings.TrimPrefix(topic, prefixAgent))
		if err != nil {
			return Envelope{}, false
		}
		agent, err := tm.store.GetAgent(ctx, id)
		if err != nil {
			return Envelope{}, false
		}
		return newEnvelope(TypeAgentState, topic, map[string]interface{}{
			"agent_id": agent.ID,
			"status":   agent.Status,
		}), true

	case strings.HasPrefix(topic, prefixUser):
		id, err := uuid.Parse(strings.TrimPrefix(topic, prefixUser))
		if err != nil {
			return Envelope{}, false
		}
		user, err := tm.store.GetUser(ctx, id)
		if err != nil {
			return Envelope{}, false
		}
		return newEnvelope(TypeUserUpdate, topic, map[string]interface{}{
			"user_id": user.ID,
			"email":   user.Email,
			"role":    user.Role,
		}), true

	case strings.HasPrefix(topic, prefixWorkflowExecution):
		id, err := uuid.Parse(strings.TrimPrefix(topic, prefixWorkflowExecution))
		if err != nil {
			return Envelope{}, false
		}
		exec, err := tm.store.GetExecution(ctx, id)
		if err != nil || exec.Phase != db.PhaseFinished {
			return Envelope{}, false
		}
		return newEnvelope(TypeExecutionFinished, topic, executionFinishedData(exec)), true

	default:
		return Envelope{}, false
	}
}

// BroadcastToTopic sends env to every client subscribed to topic. A client
// whose send channel is full (a slow or dead consumer) is dropped from
// every subscription, matching the "a failed send removes the offending
// connection from all subscription sets" contract in §4.C.
func (tm *TopicManager) BroadcastToTopic(topic string, env Envelope) {
	env.Topic = topic
	payload, err := env.marshal()
	if err != nil {
		tm.logger.Error("failed to marshal outbound envelope", zap.Error(err), zap.String("topic", topic))
		return
	}

	tm.mu.RLock()
	subscribers := make([]*Client, 0, len(tm.subscriptions[topic]))
	for clientID := range tm.subscriptions[topic] {
		if c, ok := tm.connections[clientID]; ok {
			subscribers = append(subscribers, c)
		}
	}
	tm.mu.RUnlock()

	var dead []*Client
	for _, c := range subscribers {
		select {
		case c.send <- payload:
		default:
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}

	tm.mu.Lock()
	for _, c := range dead {
		tm.removeLocked(c.ID)
	}
	tm.mu.Unlock()
	for _, c := range dead {
		c.Close()
		metrics.WSConnectionsActive.Dec()
	}
}

// bridgeEvents subscribes TopicManager to every eventbus.EventKind that
// routes to a WebSocket topic, translating each into the Envelope egress
// shape §4.C defines.
func (tm *TopicManager) bridgeEvents() {
	ctx := context.Background()

	tm.bus.Subscribe(eventbus.AgentCreated, tm.onAgentLifecycle)
	tm.bus.Subscribe(eventbus.AgentUpdated, tm.onAgentLifecycle)
	tm.bus.Subscribe(eventbus.AgentDeleted, tm.onAgentLifecycle)

	tm.bus.Subscribe(eventbus.RunCreated, tm.onAgentMapEvent)
	tm.bus.Subscribe(eventbus.RunFinished, tm.onAgentMapEvent)
	tm.bus.Subscribe(eventbus.WorkerToolCall, tm.onWorkerToolEvent)
	tm.bus.Subscribe(eventbus.WorkerFinished, tm.onWorkerToolEvent)
	tm.bus.Subscribe(eventbus.TriggerFired, tm.onAgentMapEvent)

	tm.bus.Subscribe(eventbus.ThreadMessage, tm.onUserMapEvent)

	tm.bus.Subscribe(eventbus.WorkflowStarted, func(evt eventbus.Event) { tm.onExecutionLifecycle(ctx, evt, TypeWorkflowProgress) })
	tm.bus.Subscribe(eventbus.WorkflowFinished, func(evt eventbus.Event) { tm.onExecutionLifecycle(ctx, evt, TypeExecutionFinished) })
	tm.bus.Subscribe(eventbus.NodeStateChanged, tm.onNodeStateChanged)
}

func (tm *TopicManager) onAgentLifecycle(evt eventbus.Event) {
	id, ok := evt.Payload.(uuid.UUID)
	if !ok {
		return
	}
	tm.BroadcastToTopic(prefixAgent+id.String(), newEnvelope(TypeAgentState, "", map[string]interface{}{
		"agent_id": id,
		"kind":     string(evt.Kind),
	}))
}

// onAgentMapEvent handles map-payload events that carry an agent_id and
// belong on that agent's topic: run lifecycle, tool-call lifecycle, and
// trigger firings.
func (tm *TopicManager) onAgentMapEvent(evt eventbus.Event) {
	payload, ok := evt.Payload.(map[string]interface{})
	if !ok {
		return
	}
	agentID, ok := payload["agent_id"].(uuid.UUID)
	if !ok {
		return
	}
	tm.BroadcastToTopic(prefixAgent+agentID.String(), newEnvelope(TypeAgentState, "", withKind(payload, evt.Kind)))
}

func (tm *TopicManager) onWorkerToolEvent(evt eventbus.Event) {
	payload, ok := evt.Payload.(map[string]interface{})
	if !ok {
		return
	}
	agentID, ok := payload["agent_id"].(uuid.UUID)
	if !ok {
		return
	}
	typ := TypeWorkerToolStarted
	if evt.Kind == eventbus.WorkerFinished {
		typ = TypeWorkerToolCompleted
		if status, _ := payload["status"].(string); status == "failed" {
			typ = TypeWorkerToolFailed
		}
	}
	tm.BroadcastToTopic(prefixAgent+agentID.String(), newEnvelope(typ, "", payload))
}

func (tm *TopicManager) onUserMapEvent(evt eventbus.Event) {
	payload, ok := evt.Payload.(map[string]interface{})
	if !ok {
		return
	}
	ownerID, ok := payload["owner_id"].(uuid.UUID)
	if !ok {
		return
	}
	tm.BroadcastToTopic(prefixUser+ownerID.String(), newEnvelope(TypeThreadMessage, "", payload))
}

func (tm *TopicManager) onExecutionLifecycle(ctx context.Context, evt eventbus.Event, typ string) {
	execID, ok := evt.Payload.(uuid.UUID)
	if !ok {
		return
	}
	topic := prefixWorkflowExecution + execID.String()
	if typ != TypeExecutionFinished {
		tm.BroadcastToTopic(topic, newEnvelope(typ, "", map[string]interface{}{"execution_id": execID, "phase": db.PhaseRunning}))
		return
	}

	exec, err := tm.store.GetExecution(ctx, execID)
	if err != nil {
		tm.logger.Warn("execution lookup failed for finished-event broadcast", zap.Error(err), zap.String("execution_id", execID.String()))
		return
	}
	tm.BroadcastToTopic(topic, newEnvelope(TypeExecutionFinished, "", executionFinishedData(exec)))
}

func (tm *TopicManager) onNodeStateChanged(evt eventbus.Event) {
	payload, ok := evt.Payload.(map[string]interface{})
	if !ok {
		return
	}
	execID, ok := payload["execution_id"].(uuid.UUID)
	if !ok {
		return
	}
	tm.BroadcastToTopic(prefixWorkflowExecution+execID.String(), newEnvelope(TypeNodeState, "", payload))
}

func executionFinishedData(exec *db.WorkflowExecution) map[string]interface{} {
	data := map[string]interface{}{
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"phase":        exec.Phase,
	}
	if exec.Result != nil {
		data["result"] = *exec.Result
	}
	if exec.FailureKind != nil {
		data["failure_kind"] = *exec.FailureKind
	}
	if exec.ErrorMessage != nil {
		data["error_message"] = *exec.ErrorMessage
	}
	return data
}

func withKind(payload map[string]interface{}, kind eventbus.EventKind) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["kind"] = string(kind)
	return out
}
