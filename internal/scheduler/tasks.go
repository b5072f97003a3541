// Package scheduler provides the asynq-backed background queue: notification
// dispatch and duplicate-cluster repair run here, off the request path.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskNotifyDispatch = "notify.dispatch"

const TaskSourcesRelink = "sources.relink"

type NotifyDispatchPayload struct {
	OutboxID string `json:"outboxId"`
}

type SourcesRelinkPayload struct {
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

func NewNotifyDispatchTask(payload NotifyDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyDispatch, data), nil
}

func ParseNotifyDispatchPayload(task *asynq.Task) (NotifyDispatchPayload, error) {
	var payload NotifyDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotifyDispatchPayload{}, err
	}
	return payload, nil
}

func NewSourcesRelinkTask(payload SourcesRelinkPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSourcesRelink, data), nil
}

func ParseSourcesRelinkPayload(task *asynq.Task) (SourcesRelinkPayload, error) {
	var payload SourcesRelinkPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SourcesRelinkPayload{}, err
	}
	return payload, nil
}
