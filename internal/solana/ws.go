package solana

import "context"

// WSClient defines the Solana WebSocket account-subscription interface.
type WSClient interface {
	// SubscribeAccount subscribes to state changes of one account.
	SubscribeAccount(ctx context.Context, address string) (<-chan AccountNotification, error)

	// UnsubscribeAccount cancels the subscription for an address.
	UnsubscribeAccount(ctx context.Context, address string) error

	// Connected reports whether the underlying transport is up.
	Connected() bool

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification is one account-change message.
type AccountNotification struct {
	Address  string
	Owner    string
	Lamports uint64
	Data     []byte // raw account data, base64-decoded
	Slot     int64
	// Deleted is true when the account no longer exists (zero lamports).
	Deleted bool
}

// ConnState describes the subscription transport state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// StateHandler observes transport state transitions.
type StateHandler func(state ConnState)
