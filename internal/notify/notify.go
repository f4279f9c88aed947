// Package notify posts pipeline milestones to Slack, grounded on the
// teacher's pkg/slack.Notifier wrapper over github.com/slack-go/slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts to a single configured channel whenever the pipeline
// discovers a new account or assigns a user their first post under a
// topic. It implements pipeline.Notifier.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. If botToken is empty, the
// notifier is a noop — callers are expected to pass a nil *SlackNotifier
// or check IsEnabled rather than skip construction, since a nil receiver
// is still safe to call.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *SlackNotifier) IsEnabled() bool {
	return n != nil && n.client != nil && n.channel != ""
}

// NotifyDiscovered announces that a new account entered the follow graph.
func (n *SlackNotifier) NotifyDiscovered(ctx context.Context, userID, username string) {
	n.post(ctx, fmt.Sprintf(":mag: discovered new account @%s (%s)", username, userID))
}

// NotifyNewTopic announces that a user was assigned a topic they didn't
// already have any posts under.
func (n *SlackNotifier) NotifyNewTopic(ctx context.Context, userID, topic string) {
	n.post(ctx, fmt.Sprintf(":bulb: user %s now tracked under topic %q", userID, topic))
}

func (n *SlackNotifier) post(ctx context.Context, text string) {
	if !n.IsEnabled() {
		if n.logger != nil {
			n.logger.Debug("slack notifier disabled, dropping message", "text", text)
		}
		return
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("posting slack notification failed", "error", err)
	}
}
