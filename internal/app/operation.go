package app

import (
	"encoding/json"

	"relsync/internal/database"
)

// trackedOperation is the history entry for one CLI invocation. It lives in
// memory until a command that changes state persists it, which assigns the
// database ID.
type trackedOperation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string
}

// newTrackedOperation records params as a JSON object.
func newTrackedOperation(name string, params map[string]string) *trackedOperation {
	encoded := ""
	if len(params) > 0 {
		// A map of strings always marshals.
		b, _ := json.Marshal(params)
		encoded = string(b)
	}
	return &trackedOperation{
		Name:       name,
		Parameters: encoded,
		Status:     database.StatusSuccess,
	}
}

// Persisted reports whether the operation has been saved.
func (op *trackedOperation) Persisted() bool {
	return op.ID != 0
}

// fail marks the operation failed when err is non-nil and returns err.
func (op *trackedOperation) fail(err error) error {
	if err != nil {
		op.Status = database.StatusFailed
	}
	return err
}
