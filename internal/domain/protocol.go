package domain

// Protocol identifies a supported lending/margin protocol.
// The set is fixed; decoders dispatch on it exhaustively.
type Protocol string

const (
	ProtocolMarginfi Protocol = "MARGINFI"
	ProtocolKamino   Protocol = "KAMINO"
	ProtocolDrift    Protocol = "DRIFT"
)

// String returns the string representation of Protocol.
func (p Protocol) String() string {
	return string(p)
}

// IsValid checks if the protocol is a known value.
func (p Protocol) IsValid() bool {
	return p == ProtocolMarginfi || p == ProtocolKamino || p == ProtocolDrift
}

// AllProtocols lists every supported protocol in a stable order.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolMarginfi, ProtocolKamino, ProtocolDrift}
}
