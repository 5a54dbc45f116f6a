package decode

import (
	"time"

	"solana-liq-monitor/internal/domain"
)

// Marginfi v2 account layout constants. All integers are little-endian;
// share values and weights are 128-bit fixed-point with 9 implied decimals.
const (
	marginfiAccountHeaderLen = 72
	marginfiBalanceSlots     = 16
	marginfiBalanceLen       = 80
	marginfiAccountLen       = marginfiAccountHeaderLen + marginfiBalanceSlots*marginfiBalanceLen

	marginfiBankLen = 184
)

var (
	marginfiAccountDiscriminator = [8]byte{0x43, 0xb2, 0x82, 0x6d, 0x7e, 0x72, 0x1c, 0x2a}
	marginfiBankDiscriminator    = [8]byte{0x8e, 0x2d, 0x55, 0x31, 0xc0, 0x61, 0x71, 0xd9}
)

// MarginfiBalance is one active lending-account slot: shares held against
// one bank, already scaled to share units.
type MarginfiBalance struct {
	Bank            string
	AssetShares     float64
	LiabilityShares float64
	LastUpdate      int64
}

// MarginfiAccount is a decoded marginfi user account.
type MarginfiAccount struct {
	Address   string
	Group     string
	Authority string
	Balances  []MarginfiBalance
}

// MarginfiBankParams carries the share conversion values a bank adds on top
// of the normalized reserve record.
type MarginfiBankParams struct {
	AssetShareValue      float64
	LiabilityShareValue  float64
	AssetWeightMaint     float64
	LiabilityWeightMaint float64
}

// DecodeMarginfiAccount parses a raw marginfi user account.
//
// Layout: discriminator(8) group(32) authority(32), then 16 balance slots of
// 80 bytes each: active(1) bank(32) assetShares(i128) liabilityShares(i128)
// lastUpdate(u64) pad(7). Inactive slots are skipped.
func DecodeMarginfiAccount(data []byte, address string) (*MarginfiAccount, error) {
	r := newReader(data, domain.ProtocolMarginfi, address)
	if err := r.checkDiscriminator(marginfiAccountDiscriminator); err != nil {
		return nil, err
	}
	if err := r.require(0, marginfiAccountLen); err != nil {
		return nil, err
	}

	group, err := r.pubkey(8)
	if err != nil {
		return nil, err
	}
	authority, err := r.pubkey(40)
	if err != nil {
		return nil, err
	}

	acct := &MarginfiAccount{
		Address:   address,
		Group:     group,
		Authority: authority,
	}

	for i := 0; i < marginfiBalanceSlots; i++ {
		base := marginfiAccountHeaderLen + i*marginfiBalanceLen

		active, err := r.u8(base)
		if err != nil {
			return nil, err
		}
		if active == 0 {
			continue
		}

		bank, err := r.pubkey(base + 1)
		if err != nil {
			return nil, err
		}
		assetShares, err := r.i128(base + 33)
		if err != nil {
			return nil, err
		}
		liabShares, err := r.i128(base + 49)
		if err != nil {
			return nil, err
		}
		lastUpdate, err := r.u64(base + 65)
		if err != nil {
			return nil, err
		}

		acct.Balances = append(acct.Balances, MarginfiBalance{
			Bank:            bank,
			AssetShares:     scaledI128(assetShares, scale1e9),
			LiabilityShares: scaledI128(liabShares, scale1e9),
			LastUpdate:      int64(lastUpdate),
		})
	}

	return acct, nil
}

// DecodeMarginfiBank parses a marginfi bank account into a normalized
// reserve record plus share conversion parameters.
//
// Layout: discriminator(8) mint(32) mintDecimals(1) pad(7)
// assetShareValue(i128) liabilityShareValue(i128) assetWeightInit(i128)
// assetWeightMaint(i128) liabilityWeightInit(i128) liabilityWeightMaint(i128)
// liquidationBonus(u64) oracle(32). Weights use 9 implied decimals.
func DecodeMarginfiBank(data []byte, address string) (*domain.Reserve, *MarginfiBankParams, error) {
	r := newReader(data, domain.ProtocolMarginfi, address)
	if err := r.checkDiscriminator(marginfiBankDiscriminator); err != nil {
		return nil, nil, err
	}
	if err := r.require(0, marginfiBankLen); err != nil {
		return nil, nil, err
	}

	mint, err := r.pubkey(8)
	if err != nil {
		return nil, nil, err
	}
	decimals, err := r.u8(40)
	if err != nil {
		return nil, nil, err
	}
	assetShareValue, err := r.i128(48)
	if err != nil {
		return nil, nil, err
	}
	liabShareValue, err := r.i128(64)
	if err != nil {
		return nil, nil, err
	}
	assetWeightInit, err := r.i128(80)
	if err != nil {
		return nil, nil, err
	}
	assetWeightMaint, err := r.i128(96)
	if err != nil {
		return nil, nil, err
	}
	_, err = r.i128(112) // liabilityWeightInit: borrow-side open parameter, unused for health
	if err != nil {
		return nil, nil, err
	}
	liabWeightMaint, err := r.i128(128)
	if err != nil {
		return nil, nil, err
	}
	bonus, err := r.u64(144)
	if err != nil {
		return nil, nil, err
	}
	oracle, err := r.pubkey(152)
	if err != nil {
		return nil, nil, err
	}

	reserve := &domain.Reserve{
		Address:              address,
		Protocol:             domain.ProtocolMarginfi,
		Mint:                 mint,
		Decimals:             decimals,
		LTV:                  scaledI128(assetWeightInit, scale1e9),
		LiquidationThreshold: scaledI128(assetWeightMaint, scale1e9),
		LiquidationBonus:     float64(bonus) / scale1e9,
		Oracle:               oracle,
		UpdatedAt:            time.Now().UnixMilli(),
	}
	params := &MarginfiBankParams{
		AssetShareValue:      scaledI128(assetShareValue, scale1e9),
		LiabilityShareValue:  scaledI128(liabShareValue, scale1e9),
		AssetWeightMaint:     scaledI128(assetWeightMaint, scale1e9),
		LiabilityWeightMaint: scaledI128(liabWeightMaint, scale1e9),
	}
	return reserve, params, nil
}

// MarginfiDecoder implements Decoder for marginfi v2.
type MarginfiDecoder struct {
	// bankParams caches share conversion values per bank address,
	// populated alongside the reserve cache.
	bankParams map[string]*MarginfiBankParams
}

// NewMarginfiDecoder creates a marginfi decoder.
func NewMarginfiDecoder() *MarginfiDecoder {
	return &MarginfiDecoder{bankParams: make(map[string]*MarginfiBankParams)}
}

// Protocol returns the marginfi tag.
func (d *MarginfiDecoder) Protocol() domain.Protocol {
	return domain.ProtocolMarginfi
}

// ReserveLen returns the marginfi bank account length.
func (d *MarginfiDecoder) ReserveLen() int {
	return marginfiBankLen
}

// DecodeReserve implements ReserveDecoder, stashing the share parameters.
func (d *MarginfiDecoder) DecodeReserve(data []byte, address string) (*domain.Reserve, error) {
	reserve, params, err := DecodeMarginfiBank(data, address)
	if err != nil {
		return nil, err
	}
	d.bankParams[address] = params
	return reserve, nil
}

// Positions builds normalized positions from a marginfi user account.
// Health uses maintenance weights on both sides of the ledger.
func (d *MarginfiDecoder) Positions(data []byte, address string, reserves *ReserveCache, price PriceFn) ([]*domain.Position, error) {
	acct, err := DecodeMarginfiAccount(data, address)
	if err != nil {
		return nil, err
	}

	pos := &domain.Position{
		ID:       domain.PositionID(domain.ProtocolMarginfi, address),
		Protocol: domain.ProtocolMarginfi,
		Account:  address,
		Owner:    acct.Authority,
	}

	var weightedCollateral, weightedDebt float64
	var maintThreshold float64

	for _, bal := range acct.Balances {
		reserve := reserves.Get(bal.Bank)
		if reserve == nil {
			continue
		}
		params := d.bankParams[bal.Bank]
		if params == nil {
			continue
		}
		px, ok := price(reserve.Mint)
		if !ok {
			px = reserve.PriceUSD
		}

		assetAmount := bal.AssetShares * params.AssetShareValue
		liabAmount := bal.LiabilityShares * params.LiabilityShareValue

		if !nearZero(assetAmount) {
			value := assetAmount * px
			pos.Collateral = append(pos.Collateral, domain.CollateralEntry{
				Mint:     reserve.Mint,
				Amount:   assetAmount,
				ValueUSD: value,
				PriceUSD: px,
			})
			weightedCollateral += value * params.AssetWeightMaint
			if reserve.LiquidationThreshold > maintThreshold {
				maintThreshold = reserve.LiquidationThreshold
			}
		}
		if !nearZero(liabAmount) {
			value := liabAmount * px
			pos.Debt = append(pos.Debt, domain.DebtEntry{
				Mint:     reserve.Mint,
				Amount:   liabAmount,
				ValueUSD: value,
			})
			weightedDebt += value * params.LiabilityWeightMaint
		}
	}

	if pos.IsEmpty() {
		return nil, nil
	}
	finishPosition(pos, weightedCollateral, weightedDebt, maintThreshold, time.Now().UnixMilli())
	return []*domain.Position{pos}, nil
}
