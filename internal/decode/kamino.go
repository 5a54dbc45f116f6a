package decode

import (
	"fmt"
	"time"

	"solana-liq-monitor/internal/domain"
)

// Kamino lending layout constants. Scaled fractions carry 18 implied
// decimals; raw deposit amounts are integer lamports scaled by the
// reserve's mint decimals.
const (
	kaminoObligationVersion = 1

	kaminoObligationHeaderLen = 80
	kaminoDepositSlots        = 8
	kaminoDepositLen          = 56
	kaminoBorrowSlots         = 5
	kaminoBorrowLen           = 64
	kaminoObligationLen       = kaminoObligationHeaderLen +
		kaminoDepositSlots*kaminoDepositLen +
		kaminoBorrowSlots*kaminoBorrowLen

	kaminoReserveLen = 112
)

var (
	kaminoObligationDiscriminator = [8]byte{0xa8, 0xce, 0x2a, 0x3b, 0xd7, 0x10, 0x44, 0x5c}
	kaminoReserveDiscriminator    = [8]byte{0x2b, 0x5f, 0x9e, 0x81, 0x07, 0xc3, 0x66, 0xf4}
)

// KaminoDeposit is one collateral slot of an obligation.
type KaminoDeposit struct {
	Reserve         string
	DepositedAmount uint64
	MarketValueUSD  float64
}

// KaminoBorrow is one borrow slot of an obligation.
type KaminoBorrow struct {
	Reserve        string
	BorrowedAmount float64
	MarketValueUSD float64
}

// KaminoObligation is a decoded Kamino obligation account.
type KaminoObligation struct {
	Address  string
	Market   string
	Owner    string
	Deposits []KaminoDeposit
	Borrows  []KaminoBorrow
}

// DecodeKaminoObligation parses a raw Kamino obligation account.
//
// Layout: discriminator(8) version(u64) lendingMarket(32) owner(32), then 8
// deposit slots of 56 bytes (reserve(32) depositedAmount(u64)
// marketValueSf(i128)) and 5 borrow slots of 64 bytes (reserve(32)
// borrowedAmountSf(i128) marketValueSf(i128)). An all-zero reserve pubkey
// marks an unused slot.
func DecodeKaminoObligation(data []byte, address string) (*KaminoObligation, error) {
	r := newReader(data, domain.ProtocolKamino, address)
	if err := r.checkDiscriminator(kaminoObligationDiscriminator); err != nil {
		return nil, err
	}
	if err := r.require(0, kaminoObligationLen); err != nil {
		return nil, err
	}

	version, err := r.u64(8)
	if err != nil {
		return nil, err
	}
	if version != kaminoObligationVersion {
		return nil, &DecodeError{
			Kind:     ErrUnsupportedVersion,
			Protocol: domain.ProtocolKamino,
			Account:  address,
			Detail:   fmt.Sprintf("obligation version %d", version),
		}
	}

	market, err := r.pubkey(16)
	if err != nil {
		return nil, err
	}
	owner, err := r.pubkey(48)
	if err != nil {
		return nil, err
	}

	ob := &KaminoObligation{
		Address: address,
		Market:  market,
		Owner:   owner,
	}

	depositsBase := kaminoObligationHeaderLen
	for i := 0; i < kaminoDepositSlots; i++ {
		base := depositsBase + i*kaminoDepositLen

		zero, err := r.pubkeyIsZero(base)
		if err != nil {
			return nil, err
		}
		if zero {
			continue
		}
		reserve, err := r.pubkey(base)
		if err != nil {
			return nil, err
		}
		amount, err := r.u64(base + 32)
		if err != nil {
			return nil, err
		}
		value, err := r.i128(base + 40)
		if err != nil {
			return nil, err
		}
		ob.Deposits = append(ob.Deposits, KaminoDeposit{
			Reserve:         reserve,
			DepositedAmount: amount,
			MarketValueUSD:  scaledI128(value, scale1e18),
		})
	}

	borrowsBase := depositsBase + kaminoDepositSlots*kaminoDepositLen
	for i := 0; i < kaminoBorrowSlots; i++ {
		base := borrowsBase + i*kaminoBorrowLen

		zero, err := r.pubkeyIsZero(base)
		if err != nil {
			return nil, err
		}
		if zero {
			continue
		}
		reserve, err := r.pubkey(base)
		if err != nil {
			return nil, err
		}
		amount, err := r.i128(base + 32)
		if err != nil {
			return nil, err
		}
		value, err := r.i128(base + 48)
		if err != nil {
			return nil, err
		}
		ob.Borrows = append(ob.Borrows, KaminoBorrow{
			Reserve:        reserve,
			BorrowedAmount: scaledI128(amount, scale1e18),
			MarketValueUSD: scaledI128(value, scale1e18),
		})
	}

	return ob, nil
}

// DecodeKaminoReserve parses a Kamino reserve account into a normalized
// reserve record.
//
// Layout: discriminator(8) version(u64) liquidityMint(32) mintDecimals(1)
// pad(7) loanToValuePct(1) liquidationThresholdPct(1) liquidationBonusPct(1)
// pad(5) oracle(32) priceSf(i128).
func DecodeKaminoReserve(data []byte, address string) (*domain.Reserve, error) {
	r := newReader(data, domain.ProtocolKamino, address)
	if err := r.checkDiscriminator(kaminoReserveDiscriminator); err != nil {
		return nil, err
	}
	if err := r.require(0, kaminoReserveLen); err != nil {
		return nil, err
	}

	version, err := r.u64(8)
	if err != nil {
		return nil, err
	}
	if version != kaminoObligationVersion {
		return nil, &DecodeError{
			Kind:     ErrUnsupportedVersion,
			Protocol: domain.ProtocolKamino,
			Account:  address,
			Detail:   fmt.Sprintf("reserve version %d", version),
		}
	}

	mint, err := r.pubkey(16)
	if err != nil {
		return nil, err
	}
	decimals, err := r.u8(48)
	if err != nil {
		return nil, err
	}
	ltvPct, err := r.u8(56)
	if err != nil {
		return nil, err
	}
	liqThresholdPct, err := r.u8(57)
	if err != nil {
		return nil, err
	}
	bonusPct, err := r.u8(58)
	if err != nil {
		return nil, err
	}
	oracle, err := r.pubkey(64)
	if err != nil {
		return nil, err
	}
	price, err := r.i128(96)
	if err != nil {
		return nil, err
	}

	return &domain.Reserve{
		Address:              address,
		Protocol:             domain.ProtocolKamino,
		Mint:                 mint,
		Decimals:             decimals,
		LTV:                  float64(ltvPct) / 100,
		LiquidationThreshold: float64(liqThresholdPct) / 100,
		LiquidationBonus:     float64(bonusPct) / 100,
		Oracle:               oracle,
		PriceUSD:             scaledI128(price, scale1e18),
		UpdatedAt:            time.Now().UnixMilli(),
	}, nil
}

// KaminoDecoder implements Decoder for Kamino lending.
type KaminoDecoder struct{}

// NewKaminoDecoder creates a Kamino decoder.
func NewKaminoDecoder() *KaminoDecoder {
	return &KaminoDecoder{}
}

// Protocol returns the Kamino tag.
func (d *KaminoDecoder) Protocol() domain.Protocol {
	return domain.ProtocolKamino
}

// ReserveLen returns the Kamino reserve account length.
func (d *KaminoDecoder) ReserveLen() int {
	return kaminoReserveLen
}

// DecodeReserve implements ReserveDecoder.
func (d *KaminoDecoder) DecodeReserve(data []byte, address string) (*domain.Reserve, error) {
	return DecodeKaminoReserve(data, address)
}

// Positions builds normalized positions from a Kamino obligation. Health
// weights collateral by each reserve's liquidation threshold; borrow weights
// are 1.
func (d *KaminoDecoder) Positions(data []byte, address string, reserves *ReserveCache, price PriceFn) ([]*domain.Position, error) {
	ob, err := DecodeKaminoObligation(data, address)
	if err != nil {
		return nil, err
	}

	pos := &domain.Position{
		ID:       domain.PositionID(domain.ProtocolKamino, address),
		Protocol: domain.ProtocolKamino,
		Account:  address,
		Owner:    ob.Owner,
	}

	var weightedCollateral, weightedDebt float64
	var maintThreshold float64

	for _, dep := range ob.Deposits {
		reserve := reserves.Get(dep.Reserve)
		threshold := 0.8
		mint := dep.Reserve
		var px float64
		if reserve != nil {
			threshold = reserve.LiquidationThreshold
			mint = reserve.Mint
			px = reserve.PriceUSD
			if p, ok := price(reserve.Mint); ok {
				px = p
			}
		}

		amount := float64(dep.DepositedAmount)
		if reserve != nil {
			amount /= pow10(reserve.Decimals)
		}
		value := dep.MarketValueUSD
		if value == 0 && px > 0 {
			value = amount * px
		}
		if nearZero(amount) && nearZero(value) {
			continue
		}

		pos.Collateral = append(pos.Collateral, domain.CollateralEntry{
			Mint:     mint,
			Amount:   amount,
			ValueUSD: value,
			PriceUSD: px,
		})
		weightedCollateral += value * threshold
		if threshold > maintThreshold {
			maintThreshold = threshold
		}
	}

	for _, bor := range ob.Borrows {
		reserve := reserves.Get(bor.Reserve)
		mint := bor.Reserve
		if reserve != nil {
			mint = reserve.Mint
		}
		if nearZero(bor.BorrowedAmount) && nearZero(bor.MarketValueUSD) {
			continue
		}
		pos.Debt = append(pos.Debt, domain.DebtEntry{
			Mint:     mint,
			Amount:   bor.BorrowedAmount,
			ValueUSD: bor.MarketValueUSD,
		})
		weightedDebt += bor.MarketValueUSD
	}

	if pos.IsEmpty() {
		return nil, nil
	}
	finishPosition(pos, weightedCollateral, weightedDebt, maintThreshold, time.Now().UnixMilli())
	return []*domain.Position{pos}, nil
}

func pow10(decimals uint8) float64 {
	v := 1.0
	for i := uint8(0); i < decimals; i++ {
		v *= 10
	}
	return v
}
