package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskTenantRun = "optimizer.tenant.run"

const TaskPlanExecute = "optimizer.plan.execute"

type TenantRunPayload struct {
	TenantID string `json:"tenantId"`
	Trigger  string `json:"trigger"`
}

type PlanExecutePayload struct {
	RunKey     string `json:"runKey"`
	ApprovedBy string `json:"approvedBy,omitempty"`
}

func NewTenantRunTask(payload TenantRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTenantRun, data), nil
}

func ParseTenantRunPayload(task *asynq.Task) (TenantRunPayload, error) {
	var payload TenantRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TenantRunPayload{}, err
	}
	return payload, nil
}

func NewPlanExecuteTask(payload PlanExecutePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPlanExecute, data), nil
}

func ParsePlanExecutePayload(task *asynq.Task) (PlanExecutePayload, error) {
	var payload PlanExecutePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PlanExecutePayload{}, err
	}
	return payload, nil
}
