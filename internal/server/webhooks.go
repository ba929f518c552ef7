package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentmarket/internal/config"
	"agentmarket/internal/domain"
	"agentmarket/internal/engine"
	"agentmarket/internal/repo"
)

const (
	webhookPollInterval = 2 * time.Second
	webhookBatchSize    = 100
	webhookTimeout      = 5 * time.Second
)

type eventFilter struct {
	types map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	if len(types) == 0 {
		return eventFilter{}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return eventFilter{types: set}
}

func (f eventFilter) matches(evtType string) bool {
	if f.types == nil {
		return true
	}
	_, ok := f.types[evtType]
	return ok
}

type webhookTarget struct {
	url    string
	filter eventFilter
}

// webhookDispatcher polls the event log and POSTs new entries to the
// configured endpoints. Delivery position is persisted per URL, so a
// restart resumes where it left off instead of replaying history.
type webhookDispatcher struct {
	repo    repo.Repo
	targets []webhookTarget
	client  *http.Client
	logger  *zap.Logger
}

// StartWebhookDispatcher launches the background delivery loop. It returns
// a stop function, or nil when no webhooks are enabled.
func StartWebhookDispatcher(e engine.Engine, cfg *config.Config, logger *zap.Logger) func() {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return nil
	}
	var targets []webhookTarget
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		targets = append(targets, webhookTarget{
			url:    hook.URL,
			filter: newEventFilter(hook.Events),
		})
	}
	if len(targets) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &webhookDispatcher{
		repo:    e.Repo,
		targets: targets,
		client:  &http.Client{Timeout: webhookTimeout},
		logger:  logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go d.run(ctx)
	return cancel
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range d.targets {
				d.deliver(ctx, t)
			}
		}
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, t webhookTarget) {
	cursor, err := d.repo.WebhookCursor(ctx, t.url)
	if err != nil {
		d.logger.Warn("webhook cursor read failed", zap.String("url", t.url), zap.Error(err))
		return
	}
	events, err := d.repo.ListEvents(ctx, repo.EventFilter{
		AfterID: cursor,
		Limit:   webhookBatchSize,
	})
	if err != nil {
		d.logger.Warn("webhook event poll failed", zap.String("url", t.url), zap.Error(err))
		return
	}
	for _, evt := range events {
		if t.filter.matches(evt.Type) {
			if err := d.post(ctx, t.url, evt); err != nil {
				d.logger.Warn("webhook delivery failed",
					zap.String("url", t.url),
					zap.Int64("event_id", evt.ID),
					zap.String("type", evt.Type),
					zap.Error(err))
				// Stop at the failed event so it is retried next tick.
				return
			}
		}
		if err := d.repo.SetWebhookCursor(ctx, t.url, evt.ID); err != nil {
			d.logger.Warn("webhook cursor write failed", zap.String("url", t.url), zap.Error(err))
			return
		}
	}
}

func (d *webhookDispatcher) post(ctx context.Context, url string, evt domain.Event) error {
	payload, err := json.Marshal(mapEvent(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agentmarket-Event", evt.Type)
	req.Header.Set("X-Agentmarket-Delivery", fmt.Sprintf("%d", evt.ID))
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", res.Status)
	}
	return nil
}
