package ingestion

import "fmt"

const (
	StageLoad  = "load"
	StageSplit = "split"
	StageEmbed = "embed"
	StageStore = "store"
)

// Error is a hard ingestion failure. It aborts the whole run and leaves any
// previously published collection untouched.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingestion failed at %s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
