package tasks

type Kind string

const (
	Generation Kind = "generation"
	Training   Kind = "training"
)

type Status string

const (
	Idle    Status = "idle"
	Running Status = "running"
)

// State is a snapshot of a task lifecycle. Error is empty when absent. Result
// and Error are never both set, and Error is always empty while Running.
type State[R any] struct {
	Kind     Kind
	Status   Status
	Result   *R
	Error    string
	Progress float64
}

func (s State[R]) IsRunning() bool {
	return s.Status == Running
}

func (s State[R]) HasError() bool {
	return s.Error != ""
}

// copy returns a snapshot that does not share the result with the live state.
func (s State[R]) copy() State[R] {
	if s.Result != nil {
		result := *s.Result
		s.Result = &result
	}
	return s
}
