package originator

// State is the originator's lifecycle phase (spec.md §4.8 "INITIAL →
// ORIGINATING ↔ STOPPED").
type State int32

const (
	StateInitial State = iota
	StateOriginating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateOriginating:
		return "originating"
	case StateStopped:
		return "stopped"
	default:
		return "initial"
	}
}
