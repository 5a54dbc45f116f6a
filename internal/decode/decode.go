// Package decode parses raw protocol-specific account layouts into typed
// position and reserve records. Decoders are pure: no I/O beyond the bytes
// given, and all input is treated as untrusted.
package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/mr-tron/base58"

	"solana-liq-monitor/internal/domain"
)

// ErrorKind classifies a decode failure.
type ErrorKind int

const (
	// ErrTooShort means the buffer ended before a required field.
	ErrTooShort ErrorKind = iota
	// ErrBadDiscriminator means the account discriminator did not match.
	ErrBadDiscriminator
	// ErrUnsupportedVersion means the layout version is not handled.
	ErrUnsupportedVersion
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrTooShort:
		return "TOO_SHORT"
	case ErrBadDiscriminator:
		return "BAD_DISCRIMINATOR"
	case ErrUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	default:
		return "UNKNOWN"
	}
}

// DecodeError reports a failed account decode.
type DecodeError struct {
	Kind     ErrorKind
	Protocol domain.Protocol
	Account  string
	Detail   string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s account %s: %s (%s)", e.Protocol, e.Account, e.Kind, e.Detail)
}

func errTooShort(p domain.Protocol, account string, need, have int) *DecodeError {
	return &DecodeError{
		Kind:     ErrTooShort,
		Protocol: p,
		Account:  account,
		Detail:   fmt.Sprintf("need %d bytes, have %d", need, have),
	}
}

// reader provides bounds-checked little-endian reads at fixed offsets.
type reader struct {
	data     []byte
	protocol domain.Protocol
	account  string
}

func newReader(data []byte, p domain.Protocol, account string) *reader {
	return &reader{data: data, protocol: p, account: account}
}

func (r *reader) require(off, width int) error {
	if off < 0 || off+width > len(r.data) {
		return errTooShort(r.protocol, r.account, off+width, len(r.data))
	}
	return nil
}

func (r *reader) u8(off int) (uint8, error) {
	if err := r.require(off, 1); err != nil {
		return 0, err
	}
	return r.data[off], nil
}

func (r *reader) u16(off int) (uint16, error) {
	if err := r.require(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.data[off:]), nil
}

func (r *reader) u32(off int) (uint32, error) {
	if err := r.require(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.data[off:]), nil
}

func (r *reader) u64(off int) (uint64, error) {
	if err := r.require(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.data[off:]), nil
}

func (r *reader) i64(off int) (int64, error) {
	v, err := r.u64(off)
	return int64(v), err
}

// i128 reconstructs a signed 128-bit integer from two little-endian 64-bit
// words, sign-extending from the high word.
func (r *reader) i128(off int) (*big.Int, error) {
	if err := r.require(off, 16); err != nil {
		return nil, err
	}
	lo := binary.LittleEndian.Uint64(r.data[off:])
	hi := binary.LittleEndian.Uint64(r.data[off+8:])

	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	v.Add(v, new(big.Int).SetUint64(lo))
	if hi&(1<<63) != 0 {
		// Negative: subtract 2^128.
		v.Sub(v, i128Modulus)
	}
	return v, nil
}

var i128Modulus = new(big.Int).Lsh(big.NewInt(1), 128)

// pubkey reads a 32-byte public key and returns its base58 form.
func (r *reader) pubkey(off int) (string, error) {
	if err := r.require(off, 32); err != nil {
		return "", err
	}
	return base58.Encode(r.data[off : off+32]), nil
}

// pubkeyIsZero reports whether the 32 bytes at off are all zero, the
// sentinel marking an unused slot in fixed-capacity arrays.
func (r *reader) pubkeyIsZero(off int) (bool, error) {
	if err := r.require(off, 32); err != nil {
		return false, err
	}
	for _, b := range r.data[off : off+32] {
		if b != 0 {
			return false, nil
		}
	}
	return true, nil
}

func (r *reader) checkDiscriminator(want [8]byte) error {
	if err := r.require(0, 8); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		if r.data[i] != want[i] {
			return &DecodeError{
				Kind:     ErrBadDiscriminator,
				Protocol: r.protocol,
				Account:  r.account,
				Detail:   fmt.Sprintf("got % x", r.data[:8]),
			}
		}
	}
	return nil
}

// Fixed-point scale factors. Scaling is applied inside each decoder before
// any value crosses a protocol boundary.
const (
	scale1e6  = 1e6  // drift quote/price precision
	scale1e9  = 1e9  // marginfi share values, drift base precision
	scale1e18 = 1e18 // kamino scaled fractions
)

// scaledI128 converts an i128 fixed-point value to float64 given its scale.
func scaledI128(v *big.Int, scale float64) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f / scale
}

// nearZero reports whether a scaled amount is indistinguishable from zero.
func nearZero(v float64) bool {
	return math.Abs(v) < 1e-12
}
