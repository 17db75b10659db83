package dpu

import "fmt"

// BeforeDispatch is the FaultError step of faults raised while bootstrapping
// a tasklet, before its first trace entry.
const BeforeDispatch = -1

// FaultError is a fatal condition on one tasklet. It halts the whole unit;
// the host is expected to treat the unit's write-backs as invalid.
type FaultError struct {
	Unit    string
	Tasklet int
	Step    int64
	Err     error
}

func (e *FaultError) Error() string {
	if e.Step == BeforeDispatch {
		return fmt.Sprintf("%s tasklet %d faulted during bootstrap: %v", e.Unit, e.Tasklet, e.Err)
	}
	return fmt.Sprintf("%s tasklet %d faulted at trace entry %d: %v", e.Unit, e.Tasklet, e.Step, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
