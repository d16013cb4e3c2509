package connection

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disabled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}
