package relay

// State classifies a window's activity from two successive samples.
type State string

const (
	// StateOffline means the window could not be read (process gone).
	StateOffline State = "offline"
	// StateWorking means output changed since the previous sample, or this
	// is the first observation.
	StateWorking State = "working"
	// StateStopped means output is unchanged since the previous sample.
	StateStopped State = "stopped"
)

// Detect maps the current and previous cleaned samples to a lifecycle state.
// A nil sample means the window could not be read. stableCount is accepted
// for forward compatibility but intentionally does not affect the result:
// the classifier is binary (changed vs unchanged) with no debounce window.
func Detect(current, previous *string, stableCount int) State {
	_ = stableCount
	switch {
	case current == nil:
		return StateOffline
	case previous == nil:
		return StateWorking
	case *current != *previous:
		return StateWorking
	default:
		return StateStopped
	}
}
