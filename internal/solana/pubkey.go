package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ValidatePubkey checks that an address is 32 base58-decoded bytes lying on
// the ed25519 curve. Off-curve inputs are rejected: a watch address that
// does not decode to a curve point cannot be a funded account key and is
// almost always a typo.
func ValidatePubkey(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid base58 address: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address must decode to 32 bytes, got %d", len(raw))
	}
	if !IsOnCurve(raw) {
		return fmt.Errorf("address %s is not on the ed25519 curve", address)
	}
	return nil
}

// IsOnCurve reports whether a 32-byte point is a valid ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
