// Package notify posts catalog run outcomes to Slack so an on-call operator
// sees a completed or failed run without having to poll the HTTP API.
package notify

import (
	"context"

	"github.com/slack-go/slack"
)

// slackClient is the subset of *slack.Client the notifier calls, so tests
// can substitute a fake instead of hitting the Slack API.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts one message per completed run to a fixed channel.
// A zero-value Notifier (nil *SlackNotifier, see Notify) is a silent no-op,
// matching this codebase's convention for optional dependencies.
type SlackNotifier struct {
	client    slackClient
	channelID string
}

// NewSlackNotifier builds a notifier bound to botToken and channelID. Either
// being empty means Slack notifications are disabled; callers should check
// with Enabled before wiring it in, or just rely on Notify's nil-receiver
// safety.
func NewSlackNotifier(botToken, channelID string) *SlackNotifier {
	if botToken == "" || channelID == "" {
		return nil
	}
	return &SlackNotifier{client: slack.New(botToken), channelID: channelID}
}

// RunOutcome summarizes one completed catalog run for the notification
// message.
type RunOutcome struct {
	Prefix   string
	Status   string // "success" or "error"
	Duration string
	Detail   string // error message on failure, empty on success
}

// Notify posts a run outcome to the configured channel. A nil receiver is a
// no-op, so callers never need to nil-check before calling it.
func (n *SlackNotifier) Notify(ctx context.Context, outcome RunOutcome) error {
	if n == nil {
		return nil
	}
	emoji := ":white_check_mark:"
	text := "cataloger run for `" + outcome.Prefix + "` completed in " + outcome.Duration
	if outcome.Status != "success" {
		emoji = ":x:"
		text = "cataloger run for `" + outcome.Prefix + "` failed after " + outcome.Duration + ": " + outcome.Detail
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(emoji+" "+text, false))
	return err
}
