package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// TaskName identifies the handler a task is dispatched to.
type TaskName string

const (
	TaskCancelSeatReservation  TaskName = "cancelSeatReservation"
	TaskCancelCreditCard       TaskName = "cancelCreditCard"
	TaskConfirmSeatReservation TaskName = "confirmSeatReservation"
	TaskSendOrderEvent         TaskName = "sendOrderEvent"
	TaskVoidTransaction        TaskName = "voidTransaction"
)

// TaskNames lists every task the worker knows how to run.
var TaskNames = []TaskName{
	TaskCancelSeatReservation,
	TaskCancelCreditCard,
	TaskConfirmSeatReservation,
	TaskSendOrderEvent,
	TaskVoidTransaction,
}

// TaskStatus moves Ready -> Running -> Executed | Aborted.
type TaskStatus string

const (
	TaskReady    TaskStatus = "Ready"
	TaskRunning  TaskStatus = "Running"
	TaskExecuted TaskStatus = "Executed"
	TaskAborted  TaskStatus = "Aborted"
)

// TaskExecutionResult is one entry of a task's append-only attempt log.
// Error is empty for a successful attempt.
type TaskExecutionResult struct {
	ExecutedAt time.Time `json:"executed_at"`
	Error      string    `json:"error,omitempty"`
}

// Task is a deferred, retryable unit of work.
type Task struct {
	ID                     string                `json:"id"`
	Name                   TaskName              `json:"name"`
	Status                 TaskStatus            `json:"status"`
	RunsAt                 time.Time             `json:"runs_at"`
	RemainingNumberOfTries int                   `json:"remaining_number_of_tries"`
	NumberOfTried          int                   `json:"number_of_tried"`
	LastTriedAt            *time.Time            `json:"last_tried_at,omitempty"`
	Data                   json.RawMessage       `json:"data"`
	ExecutionResults       []TaskExecutionResult `json:"execution_results,omitempty"`
}

// TaskAttributes describe a task to enqueue.
type TaskAttributes struct {
	Name                   TaskName
	RunsAt                 time.Time
	RemainingNumberOfTries int
	Data                   json.RawMessage
}

// CancelActionData is the payload of the cancel* tasks.
type CancelActionData struct {
	TransactionID string     `json:"transaction_id"`
	ActionID      string     `json:"action_id"`
	TypeOf        ActionType `json:"type_of"`
}

// TransactionTaskData is the payload of tasks that act on a whole
// transaction (voidTransaction, confirmSeatReservation, sendOrderEvent).
type TransactionTaskData struct {
	TransactionID string `json:"transaction_id"`
}
