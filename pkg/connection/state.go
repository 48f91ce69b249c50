package connection

// State is the connection lifecycle position.
type State int32

const (
	Disconnected State = iota
	Connecting
	SecureHandshake
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case SecureHandshake:
		return "secure-handshake"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
