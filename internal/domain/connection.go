package domain

// ConnectionState is the feed connection status owned by the supervisor.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Active reports whether a connection attempt is in flight or established.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateConnected
}
