package domain

// ChangeKind classifies a position change event.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "CREATED"
	ChangeUpdated ChangeKind = "UPDATED"
	ChangeDeleted ChangeKind = "DELETED"
)

// ChangeEvent is emitted by the position monitor when a watched position
// appears, materially changes, or disappears. For deletions Position holds
// the last observed snapshot.
type ChangeEvent struct {
	Kind     ChangeKind
	Position *Position
	// Previous is the prior snapshot for updates, nil otherwise.
	Previous *Position
	// Slot is the Solana slot of the triggering notification, 0 for polls.
	Slot int64
}
