package orchestrator

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/kamaleddin/threadify/model"
	Logger "github.com/kamaleddin/threadify/utils/log"
)

// TopicRunLifecycle carries one message per run status transition.
const TopicRunLifecycle = "run.lifecycle"

// RunEvent is the payload published on every run transition.
type RunEvent struct {
	RunId     string          `json:"run_id"`
	AccountId string          `json:"account_id"`
	Status    model.RunStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// EventPublisher pushes run transitions onto the in-process event bus.
// A nil publisher drops events, so the core works without a bus in tests.
type EventPublisher struct {
	bus message.Publisher
}

func NewEventPublisher(bus message.Publisher) *EventPublisher {
	return &EventPublisher{bus: bus}
}

func (p *EventPublisher) PublishTransition(run *model.Run, errMessage string) {
	if p == nil || p.bus == nil {
		return
	}

	data, err := json.Marshal(RunEvent{
		RunId:     run.Id,
		AccountId: run.AccountID,
		Status:    run.Status,
		Error:     errMessage,
	})
	if err != nil {
		Logger.Log.Errorf("cannot encode run event for %s: %v", run.Id, err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := p.bus.Publish(TopicRunLifecycle, msg); err != nil {
		Logger.Log.Errorf("cannot publish run event for %s: %v", run.Id, err)
	}
}
