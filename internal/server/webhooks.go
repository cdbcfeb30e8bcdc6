package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sgc/internal/config"
	"sgc/internal/domain"
	"sgc/internal/metrics"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 256
)

// WebhookNotifier posts committed events to the configured endpoints.
// Notify never blocks; events are dropped when the queue is full.
type WebhookNotifier struct {
	hooks  []config.WebhookConfig
	client *http.Client
	logger *zap.SugaredLogger
	queue  chan domain.Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewWebhookNotifier(hooks []config.WebhookConfig, logger *zap.SugaredLogger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var active []config.WebhookConfig
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		active = append(active, hook)
	}
	return &WebhookNotifier{
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
		queue:  make(chan domain.Event, defaultWebhookQueue),
	}
}

// Start runs the delivery loop until ctx is done or Close is called.
func (n *WebhookNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-n.queue:
				if !ok {
					return
				}
				n.dispatch(ctx, evt)
			}
		}
	}()
}

// Close drains the queue and waits for the delivery loop. Events notified
// after Close are dropped.
func (n *WebhookNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *WebhookNotifier) Notify(_ context.Context, evt domain.Event) {
	if len(n.hooks) == 0 {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		metrics.RecordWebhookDelivery("descartado")
		n.logger.Warnw("webhook: notificador encerrado, evento descartado", "evento", evt.ID, "tipo", evt.Type)
		return
	}
	select {
	case n.queue <- evt:
	default:
		metrics.RecordWebhookDelivery("descartado")
		n.logger.Warnw("webhook: fila cheia, evento descartado", "evento", evt.ID, "tipo", evt.Type)
	}
}

func (n *WebhookNotifier) dispatch(ctx context.Context, evt domain.Event) {
	for _, hook := range n.hooks {
		if !newEventFilter(hook.Events).match(evt.Type) {
			continue
		}
		if err := n.postEvent(ctx, hook, evt); err != nil {
			metrics.RecordWebhookDelivery("falha")
			n.logger.Warnw("webhook: entrega falhou", "url", hook.URL, "evento", evt.ID, "error", err)
			continue
		}
		metrics.RecordWebhookDelivery("ok")
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProcessoID string          `json:"processo_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (n *WebhookNotifier) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProcessoID: evt.ProcessoID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := n.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sgc-Event", evt.Type)
	req.Header.Set("X-Sgc-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Sgc-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
