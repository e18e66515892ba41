package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/kamaleddin/threadify/model"
	"github.com/kamaleddin/threadify/orchestrator"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/slack-go/slack"
)

// Statuses worth a human ping. Intermediate transitions (submitted,
// approved, posting) only show up in logs.
var notifiableStatuses = map[model.RunStatus]bool{
	model.RunStatusReview:         true,
	model.RunStatusRequiresReview: true,
	model.RunStatusCompleted:      true,
	model.RunStatusFailed:         true,
}

// WebhookSender posts one message to the configured webhook.
type WebhookSender func(url string, msg *slack.WebhookMessage) error

// SlackNotifier listens to run lifecycle events and forwards the ones that
// need attention to a Slack channel. With no webhook configured it acks and
// drops everything, so the module is always safe to mount.
type SlackNotifier struct {
	name       string
	webhookUrl string
	send       WebhookSender
	eventBus   *gochannel.GoChannel
}

func NewSlackNotifier(name string, eventBus *gochannel.GoChannel) *SlackNotifier {
	return &SlackNotifier{
		name:       name,
		webhookUrl: os.Getenv("SLACK_WEBHOOK_URL"),
		send: func(url string, msg *slack.WebhookMessage) error {
			return slack.PostWebhook(url, msg)
		},
		eventBus: eventBus,
	}
}

func (n *SlackNotifier) Name() string {
	return n.name
}

func (n *SlackNotifier) Shutdown() {}

// RunModule consumes lifecycle events until the context is canceled.
func (n *SlackNotifier) RunModule(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := n.eventBus.Subscribe(ctx, orchestrator.TopicRunLifecycle)
	if err != nil {
		return err
	}

	if n.webhookUrl == "" {
		Logger.Log.Infoln("SLACK_WEBHOOK_URL not set, run notifications disabled")
	}

	for msg := range messages {
		msg.Ack()

		event := orchestrator.RunEvent{}
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			Logger.Log.Errorf("cannot decode run event: %v", err)
			continue
		}

		n.notify(event)
	}

	return nil
}

func (n *SlackNotifier) notify(event orchestrator.RunEvent) {
	if n.webhookUrl == "" || !notifiableStatuses[event.Status] {
		return
	}

	if err := n.send(n.webhookUrl, buildMessage(event)); err != nil {
		Logger.Log.Errorf("cannot notify slack for run %s: %v", event.RunId, err)
	}
}

func buildMessage(event orchestrator.RunEvent) *slack.WebhookMessage {
	headline := map[model.RunStatus]string{
		model.RunStatusReview:         ":eyes: Run awaiting review",
		model.RunStatusRequiresReview: ":warning: Run stalled, needs re-approval",
		model.RunStatusCompleted:      ":white_check_mark: Run completed",
		model.RunStatusFailed:         ":x: Run failed",
	}[event.Status]

	elements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*", headline), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("run `%s`", event.RunId), false, false),
	}
	if event.Error != "" {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn", event.Error, false, false))
	}

	return &slack.WebhookMessage{
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{slack.NewContextBlock("", elements...)},
		},
	}
}
