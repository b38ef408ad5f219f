package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
)

type fakeSlackClient struct {
	channelID  string
	optionsLen int
	err        error
}

func (f *fakeSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channelID = channelID
	f.optionsLen = len(options)
	if f.err != nil {
		return "", "", f.err
	}
	return channelID, "1234.5678", nil
}

func TestNewSlackNotifierRequiresTokenAndChannel(t *testing.T) {
	if n := NewSlackNotifier("", "C123"); n != nil {
		t.Fatal("expected nil notifier with empty token")
	}
	if n := NewSlackNotifier("xoxb-test", ""); n != nil {
		t.Fatal("expected nil notifier with empty channel")
	}
}

func TestNilNotifierNotifyIsNoop(t *testing.T) {
	var n *SlackNotifier
	if err := n.Notify(context.Background(), RunOutcome{Prefix: "acme"}); err != nil {
		t.Fatalf("Notify() on nil receiver = %v, want nil", err)
	}
}

func TestNotifyPostsToConfiguredChannel(t *testing.T) {
	fake := &fakeSlackClient{}
	n := &SlackNotifier{client: fake, channelID: "C123"}
	err := n.Notify(context.Background(), RunOutcome{Prefix: "acme", Status: "success", Duration: "12s"})
	if err != nil {
		t.Fatalf("Notify() = %v, want nil", err)
	}
	if fake.channelID != "C123" {
		t.Errorf("channelID = %q, want C123", fake.channelID)
	}
	if fake.optionsLen == 0 {
		t.Error("expected at least one MsgOption to be passed")
	}
}

func TestNotifyPropagatesPostError(t *testing.T) {
	fake := &fakeSlackClient{err: errors.New("boom")}
	n := &SlackNotifier{client: fake, channelID: "C123"}
	err := n.Notify(context.Background(), RunOutcome{Prefix: "acme", Status: "error", Detail: "boom"})
	if err == nil {
		t.Fatal("Notify() = nil, want error")
	}
}
