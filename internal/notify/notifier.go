// Package notify delivers reminder notifications. Delivery is
// fire-and-forget: a failed notification is logged and dropped, never
// retried into the user's face.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/learnloop/learnloop-core/pkg/logger"
)

// Notifier is the sink the reminder scheduler writes to.
type Notifier interface {
	// NotifyReviewsDue tells the owner how many review items are waiting.
	NotifyReviewsDue(ctx context.Context, ownerID string, dueCount int) error

	// NotifyStreakAtRisk warns that today has no activity yet and the
	// streak breaks at midnight.
	NotifyStreakAtRisk(ctx context.Context, ownerID string, current int) error

	// NotifyQuizStarted tells a group member the leader started a quiz.
	NotifyQuizStarted(ctx context.Context, ownerID, groupID, topic string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// LogNotifier writes notifications to the structured log. Default sink
// when no webhook is configured.
type LogNotifier struct {
	log *logger.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyReviewsDue(ctx context.Context, ownerID string, dueCount int) error {
	n.log.Info("reviews due",
		logger.Component("notify"),
		logger.OwnerID(ownerID),
		logger.Int("due_count", dueCount),
	)
	return nil
}

func (n *LogNotifier) NotifyStreakAtRisk(ctx context.Context, ownerID string, current int) error {
	n.log.Info("streak at risk",
		logger.Component("notify"),
		logger.OwnerID(ownerID),
		logger.Int("current_streak", current),
	)
	return nil
}

func (n *LogNotifier) NotifyQuizStarted(ctx context.Context, ownerID, groupID, topic string) error {
	n.log.Info("group quiz started",
		logger.Component("notify"),
		logger.OwnerID(ownerID),
		logger.GroupID(groupID),
		logger.String("topic", topic),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// WebhookNotifier POSTs notification payloads to a configured endpoint,
// typically a push-notification relay in front of the mobile clients.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        *logger.Logger
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url string, timeout time.Duration, log *logger.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type webhookPayload struct {
	Kind    string         `json:"kind"`
	OwnerID string         `json:"ownerId"`
	Data    map[string]any `json:"data,omitempty"`
	SentAt  time.Time      `json:"sentAt"`
}

func (n *WebhookNotifier) NotifyReviewsDue(ctx context.Context, ownerID string, dueCount int) error {
	return n.send(ctx, webhookPayload{
		Kind:    "reviews_due",
		OwnerID: ownerID,
		Data:    map[string]any{"dueCount": dueCount},
	})
}

func (n *WebhookNotifier) NotifyStreakAtRisk(ctx context.Context, ownerID string, current int) error {
	return n.send(ctx, webhookPayload{
		Kind:    "streak_at_risk",
		OwnerID: ownerID,
		Data:    map[string]any{"currentStreak": current},
	})
}

func (n *WebhookNotifier) NotifyQuizStarted(ctx context.Context, ownerID, groupID, topic string) error {
	return n.send(ctx, webhookPayload{
		Kind:    "quiz_started",
		OwnerID: ownerID,
		Data:    map[string]any{"groupId": groupID, "topic": topic},
	})
}

func (n *WebhookNotifier) send(ctx context.Context, payload webhookPayload) error {
	payload.SentAt = time.Now().UTC()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
