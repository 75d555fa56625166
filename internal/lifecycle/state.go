package lifecycle

// State is the connection state machine's position. Exactly one Bridge is
// live per process, so there is exactly one State.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateCoolingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}
