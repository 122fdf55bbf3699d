package connection

// State is the lifecycle position of the managed socket.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the read-only view handed to consumers.
type Status struct {
	// Socket is the live handle, or nil when none is held.
	Socket      Socket
	IsConnected bool
	State       State
	// Seq increases with every published transition.
	Seq uint64
}
