package types

// Status represents connection lifecycle states
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Live reports whether frames can currently flow
func (s Status) Live() bool {
	return s == StatusConnected
}
