package decode

import (
	"solana-liq-monitor/internal/domain"
)

// Program IDs of the supported lending protocols.
const (
	// MarginfiProgram is the marginfi v2 program ID.
	MarginfiProgram = "MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FZnsebVacA"
	// KaminoProgram is the Kamino lending program ID.
	KaminoProgram = "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD"
	// DriftProgram is the Drift v2 program ID.
	DriftProgram = "dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH"
)

// Decoder turns one protocol's raw user account into normalized positions.
// Implementations are pure: valuation inputs (reserves, prices) are passed
// explicitly.
type Decoder interface {
	// Protocol returns the protocol tag this decoder handles.
	Protocol() domain.Protocol

	// Positions decodes a user account and builds its positions, one per
	// non-empty sub-account. Reserve parameters come from the cache and
	// prices from the supplied resolver.
	Positions(data []byte, address string, reserves *ReserveCache, price PriceFn) ([]*domain.Position, error)
}

// ReserveDecoder turns one protocol's raw reserve/bank/market account into a
// normalized reserve record.
type ReserveDecoder interface {
	DecodeReserve(data []byte, address string) (*domain.Reserve, error)
}

// ReserveSource is implemented by decoders whose reserve accounts can be
// discovered by an exact dataSize filter on getProgramAccounts.
type ReserveSource interface {
	ReserveDecoder

	// ReserveLen is the exact byte length of the protocol's reserve
	// accounts.
	ReserveLen() int
}

// Registry maps program IDs to their decoders, mirroring the fixed,
// exhaustively-matchable protocol set.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry creates a registry with all supported protocol decoders
// registered under their program IDs.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	r.Register(MarginfiProgram, NewMarginfiDecoder())
	r.Register(KaminoProgram, NewKaminoDecoder())
	r.Register(DriftProgram, NewDriftDecoder())
	return r
}

// Register adds a decoder for a program ID.
func (r *Registry) Register(programID string, d Decoder) {
	r.decoders[programID] = d
}

// ForProgram returns the decoder for a program ID, or nil when unknown.
func (r *Registry) ForProgram(programID string) Decoder {
	return r.decoders[programID]
}

// ForProtocol returns the decoder for a protocol tag, or nil when unknown.
func (r *Registry) ForProtocol(p domain.Protocol) Decoder {
	for _, d := range r.decoders {
		if d.Protocol() == p {
			return d
		}
	}
	return nil
}

// Programs lists all registered program IDs.
func (r *Registry) Programs() []string {
	out := make([]string, 0, len(r.decoders))
	for id := range r.decoders {
		out = append(out, id)
	}
	return out
}
