package triggers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/metrics"
	"github.com/zerg-labs/zerg-core/internal/secretbox"
	"github.com/zerg-labs/zerg-core/internal/tasks"
)

const (
	defaultPollInterval = 10 * time.Minute
	accessTokenTTL      = 55 * time.Minute
	watchRenewWindow    = 24 * time.Hour
)

// HistoryRecord is one Gmail history.list entry, flattened to the message
// ids it added.
type HistoryRecord struct {
	ID              uint64
	MessageIDsAdded []string
}

// MessageMeta is the minimal per-message metadata the filter step needs.
type MessageMeta struct {
	From    string
	Subject string
	Labels  []string
}

// GmailClient is the port the poller calls; the concrete implementation
// (not included here — it is an outbound HTTPS client to accounts.google.com
// and gmail.googleapis.com) is out of scope for this module the same way
// internal/runner.LLMClient's concrete providers are (§1).
type GmailClient interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (accessToken string, err error)
	ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (records []HistoryRecord, maxHistoryID uint64, err error)
	GetMessageMetadata(ctx context.Context, accessToken, messageID string) (*MessageMeta, error)
	RenewWatch(ctx context.Context, accessToken string) (historyID uint64, expiry time.Time, err error)
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// GmailPoller implements the email trigger path of §4.H: per-interval
// history-diff polling, filter matching, watch renewal, all on worker
// threads (a ticker goroutine here, never the request-serving goroutine).
// Grounded on original_source's EmailTriggerService._run_loop /
// _handle_gmail_trigger / _maybe_renew_gmail_watch, reshaped from its
// per-trigger asyncio.to_thread calls into a single Go goroutine per poll
// tick with golang.org/x/time/rate bounding outbound Gmail calls (the
// teacher's own internal/budget.Manager uses the identical
// rate.NewLimiter(rate.Limit(n), burst) shape for its per-user limiter).
type GmailPoller struct {
	store    *db.Client
	bus      *eventbus.Bus
	executor *tasks.Executor
	client   GmailClient
	box      *secretbox.Box
	limiter  *rate.Limiter
	interval time.Duration
	logger   *zap.Logger

	tokenCache map[string]cachedToken
}

// NewGmailPoller builds a GmailPoller. interval <= 0 defaults to 10 minutes.
func NewGmailPoller(store *db.Client, bus *eventbus.Bus, executor *tasks.Executor, client GmailClient, box *secretbox.Box, interval time.Duration, logger *zap.Logger) *GmailPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &GmailPoller{
		store:      store,
		bus:        bus,
		executor:   executor,
		client:     client,
		box:        box,
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		interval:   interval,
		logger:     logger,
		tokenCache: make(map[string]cachedToken),
	}
}

// Run blocks, polling every interval until ctx is canceled.
func (p *GmailPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *GmailPoller) pollOnce(ctx context.Context) {
	triggers, err := p.store.ListTriggersByType(ctx, "email")
	if err != nil {
		p.logger.Error("listing email triggers", zap.Error(err))
		return
	}
	for _, trig := range triggers {
		if provider, _ := trig.Config["provider"].(string); provider != "" && provider != "gmail" {
			continue
		}
		if err := p.processTrigger(ctx, &trig); err != nil {
			p.logger.Error("processing gmail trigger", zap.String("trigger_id", trig.ID.String()), zap.Error(err))
		}
	}
}

func (p *GmailPoller) processTrigger(ctx context.Context, trig *db.Trigger) error {
	user, err := p.store.GetAnyUserWithGmailToken(ctx)
	if err != nil {
		return fmt.Errorf("finding gmail-connected user: %w", err)
	}

	accessToken, err := p.accessTokenFor(ctx, user)
	if err != nil {
		metrics.GmailAPIErrorTotal.WithLabelValues("token_exchange").Inc()
		return err
	}

	if err := p.maybeRenewWatch(ctx, trig, accessToken); err != nil {
		p.logger.Warn("gmail watch renewal failed", zap.String("trigger_id", trig.ID.String()), zap.Error(err))
	}

	startHistoryID := historyIDFromConfig(trig.Config)

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	records, maxHistoryID, err := p.client.ListHistory(ctx, accessToken, startHistoryID)
	if err != nil {
		metrics.GmailAPIErrorTotal.WithLabelValues("list_history").Inc()
		return fmt.Errorf("listing history for trigger %s: %w", trig.ID, err)
	}

	filters, _ := trig.Config["filters"].(map[string]interface{})
	firedAny := false
	for _, rec := range records {
		for _, messageID := range rec.MessageIDsAdded {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			meta, err := p.client.GetMessageMetadata(ctx, accessToken, messageID)
			if err != nil {
				metrics.GmailAPIErrorTotal.WithLabelValues("get_message").Inc()
				continue
			}
			if !matchesFilters(meta, filters) {
				continue
			}
			p.fire(trig, messageID)
			firedAny = true
		}
	}

	// Always advance history_id to the maximum seen, even on a dry poll, so
	// the next tick never reprocesses the same diff (§4.H).
	if maxHistoryID > startHistoryID {
		cfg := cloneConfig(trig.Config)
		cfg["history_id"] = maxHistoryID
		if err := p.store.UpdateTriggerConfig(ctx, trig.ID, cfg); err != nil {
			return fmt.Errorf("persisting history_id for trigger %s: %w", trig.ID, err)
		}
	}

	p.logger.Debug("gmail trigger processed",
		zap.String("trigger_id", trig.ID.String()),
		zap.Int("records", len(records)),
		zap.Bool("fired", firedAny))
	return nil
}

func (p *GmailPoller) fire(trig *db.Trigger, messageID string) {
	p.bus.Publish(eventbus.TriggerFired, map[string]interface{}{
		"trigger_id": trig.ID,
		"agent_id":   trig.AgentID,
		"provider":   "gmail",
		"message_id": messageID,
	})

	agent, err := p.store.GetAgent(context.Background(), trig.AgentID)
	if err != nil {
		p.logger.Warn("gmail trigger fired for missing agent", zap.String("agent_id", trig.AgentID.String()), zap.Error(err))
		return
	}
	go func() {
		if _, err := p.executor.ExecuteAgentTask(context.Background(), agent, db.ThreadTypeManual, db.TriggerWebhook); err != nil {
			p.logger.Warn("gmail-triggered agent task failed", zap.String("agent_id", agent.ID.String()), zap.Error(err))
		}
	}()
}

func (p *GmailPoller) accessTokenFor(ctx context.Context, user *db.User) (string, error) {
	refreshToken, err := p.box.Open(user.GmailRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypting gmail refresh token: %w", err)
	}
	key := string(refreshToken)

	if cached, ok := p.tokenCache[key]; ok && time.Now().Before(cached.expiresAt) {
		return cached.accessToken, nil
	}

	accessToken, err := p.client.ExchangeRefreshToken(ctx, key)
	if err != nil {
		return "", fmt.Errorf("exchanging gmail refresh token: %w", err)
	}
	p.tokenCache[key] = cachedToken{accessToken: accessToken, expiresAt: time.Now().Add(accessTokenTTL)}
	return accessToken, nil
}

func (p *GmailPoller) maybeRenewWatch(ctx context.Context, trig *db.Trigger, accessToken string) error {
	expiry, ok := watchExpiryFromConfig(trig.Config)
	if !ok {
		return nil
	}
	if time.Until(expiry) > watchRenewWindow {
		return nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	historyID, newExpiry, err := p.client.RenewWatch(ctx, accessToken)
	if err != nil {
		metrics.GmailWatchRenewTotal.WithLabelValues("error").Inc()
		metrics.GmailAPIErrorTotal.WithLabelValues("watch").Inc()
		return fmt.Errorf("renewing gmail watch for trigger %s: %w", trig.ID, err)
	}

	cfg := cloneConfig(trig.Config)
	cfg["history_id"] = historyID
	cfg["watch_expiry"] = newExpiry.UnixMilli()
	if err := p.store.UpdateTriggerConfig(ctx, trig.ID, cfg); err != nil {
		return fmt.Errorf("persisting renewed watch for trigger %s: %w", trig.ID, err)
	}
	metrics.GmailWatchRenewTotal.WithLabelValues("ok").Inc()
	return nil
}

func cloneConfig(cfg db.JSONB) db.JSONB {
	out := make(db.JSONB, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

func historyIDFromConfig(cfg db.JSONB) uint64 {
	switch v := cfg["history_id"].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	default:
		return 0
	}
}

func watchExpiryFromConfig(cfg db.JSONB) (time.Time, bool) {
	v, ok := cfg["watch_expiry"]
	if !ok {
		return time.Time{}, false
	}
	ms, ok := v.(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

// matchesFilters applies a small filter language over message metadata:
// "from_contains", "subject_contains" (case-insensitive substring) and
// "label" (exact match against any of meta.Labels). An absent or empty
// filters map matches everything.
func matchesFilters(meta *MessageMeta, filters map[string]interface{}) bool {
	if len(filters) == 0 {
		return true
	}
	if v, ok := filters["from_contains"].(string); ok && v != "" {
		if !strings.Contains(strings.ToLower(meta.From), strings.ToLower(v)) {
			return false
		}
	}
	if v, ok := filters["subject_contains"].(string); ok && v != "" {
		if !strings.Contains(strings.ToLower(meta.Subject), strings.ToLower(v)) {
			return false
		}
	}
	if v, ok := filters["label"].(string); ok && v != "" {
		found := false
		for _, l := range meta.Labels {
			if strings.EqualFold(l, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
