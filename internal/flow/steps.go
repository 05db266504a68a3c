// Package flow runs the daily replenishment sequence of one product as an explicit state machine.
package flow

import "fmt"

type Step string

const (
	StepNotStarted       Step = "not-started"
	StepAged             Step = "aged"
	StepExpiredPurged    Step = "expired-purged"
	StepForecastComputed Step = "forecast-computed"
	StepWithdrawal       Step = "withdrawal-computed"
	StepBatchCreated     Step = "batch-created"
	StepDone             Step = "done"
)

// Steps lists the states in the only order they can be reached.
var Steps = []Step{
	StepNotStarted,
	StepAged,
	StepExpiredPurged,
	StepForecastComputed,
	StepWithdrawal,
	StepBatchCreated,
	StepDone,
}

// StepError reports the step whose transition failed. Steps before it stay committed.
type StepError struct {
	SKU  string
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("daily flow %s: step %s: %v", e.SKU, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
