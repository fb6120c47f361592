// Package triggers implements external event ingestion (§4.H): a webhook
// HTTP path that verifies a per-trigger secret and a Gmail polling path that
// diffs mailbox history. Both translate an external event into a
// TRIGGER_FIRED publish and a Task Runner invocation.
package triggers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/metrics"
	"github.com/zerg-labs/zerg-core/internal/tasks"
)

// WebhookHandler verifies inbound webhook secrets and dispatches the bound
// agent's task. The secret arrives via the X-Trigger-Secret header or a
// "secret" body field; header takes precedence, mirroring the wire contract
// in SPEC_FULL §6 ("delivered via header or body per trigger type").
type WebhookHandler struct {
	store    *db.Client
	bus      *eventbus.Bus
	executor *tasks.Executor
	logger   *zap.Logger
}

// NewWebhookHandler builds a WebhookHandler.
func NewWebhookHandler(store *db.Client, bus *eventbus.Bus, executor *tasks.Executor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{store: store, bus: bus, executor: executor, logger: logger}
}

// RegisterRoutes wires the webhook ingress path onto mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /triggers/webhook/{id}", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("not_found").Inc()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	trig, err := h.store.GetTrigger(r.Context(), id)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("not_found").Inc()
		w.WriteHeader(http.StatusNotFound)
		return
	}

	secret := r.Header.Get("X-Trigger-Secret")
	if secret == "" {
		secret = r.FormValue("secret")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(trig.Secret)) != 1 {
		metrics.WebhookRequestsTotal.WithLabelValues("unauthorized").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	agent, err := h.store.GetAgent(r.Context(), trig.AgentID)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("not_found").Inc()
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.bus.Publish(eventbus.TriggerFired, map[string]interface{}{
		"trigger_id": trig.ID,
		"agent_id":   agent.ID,
		"type":       "webhook",
	})

	go h.runInBackground(agent)

	metrics.WebhookRequestsTotal.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (h *WebhookHandler) runInBackground(agent *db.Agent) {
	ctx := context.Background()
	if _, err := h.executor.ExecuteAgentTask(ctx, agent, db.ThreadTypeManual, db.TriggerWebhook); err != nil {
		h.logger.Warn("webhook-triggered agent task failed", zap.String("agent_id", agent.ID.String()), zap.Error(err))
	}
}
