package decode

import (
	"math"
	"strconv"
	"time"

	"solana-liq-monitor/internal/domain"
)

// Drift v2 layout constants. Quote amounts and prices carry 6 implied
// decimals, base amounts and spot balances 9.
const (
	driftUserHeaderLen = 48
	driftSpotSlots     = 8
	driftSpotLen       = 20
	driftPerpSlots     = 8
	driftPerpLen       = 40
	driftUserLen       = driftUserHeaderLen +
		driftSpotSlots*driftSpotLen +
		driftPerpSlots*driftPerpLen

	driftPerpMarketLen = 80

	driftBalanceDeposit = 0
	driftBalanceBorrow  = 1
)

var (
	driftUserDiscriminator       = [8]byte{0x9f, 0x0d, 0x84, 0x37, 0x5a, 0xe4, 0x21, 0x6b}
	driftPerpMarketDiscriminator = [8]byte{0x0a, 0xdf, 0x0c, 0x96, 0x43, 0x58, 0xe1, 0x82}
)

// DriftSpotPosition is one spot balance slot.
type DriftSpotPosition struct {
	MarketIndex uint16
	Balance     float64 // scaled token amount, positive
	IsBorrow    bool
}

// DriftPerpPosition is one perpetual position slot.
type DriftPerpPosition struct {
	MarketIndex      uint16
	BaseAmount       float64 // signed position size in base units
	QuoteAmount      float64 // signed quote notional
	QuoteEntryAmount float64 // quote notional at entry
	LastCumFunding   float64 // cumulative funding rate at last settlement
}

// DriftUser is a decoded Drift user account.
type DriftUser struct {
	Address       string
	Authority     string
	SubAccountID  uint16
	SpotPositions []DriftSpotPosition
	PerpPositions []DriftPerpPosition
}

// EntryPrice derives the position's entry price from stored notional over
// size when the account does not carry it directly.
func (p *DriftPerpPosition) EntryPrice() float64 {
	if p.BaseAmount == 0 {
		return 0
	}
	return math.Abs(p.QuoteEntryAmount) / math.Abs(p.BaseAmount)
}

// UnrealizedPnL is size times the spread between mark and entry price.
func (p *DriftPerpPosition) UnrealizedPnL(markPrice float64) float64 {
	return p.BaseAmount * (markPrice - p.EntryPrice())
}

// UnsettledFunding is the funding owed since the last settlement:
// -size * (currentCumFunding - lastCumFunding).
func (p *DriftPerpPosition) UnsettledFunding(currentCumFunding float64) float64 {
	return -p.BaseAmount * (currentCumFunding - p.LastCumFunding)
}

// DriftMarketParams carries the perp-market values beyond the normalized
// reserve record.
type DriftMarketParams struct {
	MarketIndex        uint16
	CumulativeFunding  float64
	MarginRatioInitial float64
	MarginRatioMaint   float64
}

// DecodeDriftUser parses a raw Drift user account.
//
// Layout: discriminator(8) authority(32) subAccountId(u16) pad(6), then 8
// spot slots of 20 bytes (marketIndex(u16) pad(2) scaledBalance(u64)
// balanceType(1) pad(7)) and 8 perp slots of 40 bytes (marketIndex(u16)
// pad(6) baseAssetAmount(i64) quoteAssetAmount(i64) quoteEntryAmount(i64)
// lastCumFundingRate(i64)). A slot with zero balance/size is unused.
func DecodeDriftUser(data []byte, address string) (*DriftUser, error) {
	r := newReader(data, domain.ProtocolDrift, address)
	if err := r.checkDiscriminator(driftUserDiscriminator); err != nil {
		return nil, err
	}
	if err := r.require(0, driftUserLen); err != nil {
		return nil, err
	}

	authority, err := r.pubkey(8)
	if err != nil {
		return nil, err
	}
	subAccount, err := r.u16(40)
	if err != nil {
		return nil, err
	}

	user := &DriftUser{
		Address:      address,
		Authority:    authority,
		SubAccountID: subAccount,
	}

	spotBase := driftUserHeaderLen
	for i := 0; i < driftSpotSlots; i++ {
		base := spotBase + i*driftSpotLen

		marketIndex, err := r.u16(base)
		if err != nil {
			return nil, err
		}
		balance, err := r.u64(base + 4)
		if err != nil {
			return nil, err
		}
		balanceType, err := r.u8(base + 12)
		if err != nil {
			return nil, err
		}
		if balance == 0 {
			continue
		}
		user.SpotPositions = append(user.SpotPositions, DriftSpotPosition{
			MarketIndex: marketIndex,
			Balance:     float64(balance) / scale1e9,
			IsBorrow:    balanceType == driftBalanceBorrow,
		})
	}

	perpBase := spotBase + driftSpotSlots*driftSpotLen
	for i := 0; i < driftPerpSlots; i++ {
		base := perpBase + i*driftPerpLen

		marketIndex, err := r.u16(base)
		if err != nil {
			return nil, err
		}
		baseAmount, err := r.i64(base + 8)
		if err != nil {
			return nil, err
		}
		quoteAmount, err := r.i64(base + 16)
		if err != nil {
			return nil, err
		}
		quoteEntry, err := r.i64(base + 24)
		if err != nil {
			return nil, err
		}
		lastFunding, err := r.i64(base + 32)
		if err != nil {
			return nil, err
		}
		if baseAmount == 0 && quoteAmount == 0 {
			continue
		}
		user.PerpPositions = append(user.PerpPositions, DriftPerpPosition{
			MarketIndex:      marketIndex,
			BaseAmount:       float64(baseAmount) / scale1e9,
			QuoteAmount:      float64(quoteAmount) / scale1e6,
			QuoteEntryAmount: float64(quoteEntry) / scale1e6,
			LastCumFunding:   float64(lastFunding) / scale1e9,
		})
	}

	return user, nil
}

// DecodeDriftPerpMarket parses a Drift perp market account.
//
// Layout: discriminator(8) marketIndex(u16) pad(6) oracle(32) markPrice(i64)
// cumulativeFundingRate(i64) marginRatioInitial(u32) marginRatioMaint(u32)
// liquidatorFee(u32) baseDecimals(1) pad(3). Margin ratios carry 4 implied
// decimals, the liquidator fee 6.
func DecodeDriftPerpMarket(data []byte, address string) (*domain.Reserve, *DriftMarketParams, error) {
	r := newReader(data, domain.ProtocolDrift, address)
	if err := r.checkDiscriminator(driftPerpMarketDiscriminator); err != nil {
		return nil, nil, err
	}
	if err := r.require(0, driftPerpMarketLen); err != nil {
		return nil, nil, err
	}

	marketIndex, err := r.u16(8)
	if err != nil {
		return nil, nil, err
	}
	oracle, err := r.pubkey(16)
	if err != nil {
		return nil, nil, err
	}
	markPrice, err := r.i64(48)
	if err != nil {
		return nil, nil, err
	}
	cumFunding, err := r.i64(56)
	if err != nil {
		return nil, nil, err
	}
	marginInit, err := r.u32(64)
	if err != nil {
		return nil, nil, err
	}
	marginMaint, err := r.u32(68)
	if err != nil {
		return nil, nil, err
	}
	liqFee, err := r.u32(72)
	if err != nil {
		return nil, nil, err
	}
	decimals, err := r.u8(76)
	if err != nil {
		return nil, nil, err
	}

	maintRatio := float64(marginMaint) / 1e4
	reserve := &domain.Reserve{
		Address:  address,
		Protocol: domain.ProtocolDrift,
		Mint:     driftMarketMint(marketIndex),
		Decimals: decimals,
		// Perp margin ratios invert into collateral-ratio terms: a 5%
		// maintenance ratio liquidates at collateral/notional = 0.05.
		LTV:                  1 - float64(marginInit)/1e4,
		LiquidationThreshold: 1 - maintRatio,
		LiquidationBonus:     float64(liqFee) / scale1e6,
		Oracle:               oracle,
		PriceUSD:             float64(markPrice) / scale1e6,
		UpdatedAt:            time.Now().UnixMilli(),
	}
	params := &DriftMarketParams{
		MarketIndex:        marketIndex,
		CumulativeFunding:  float64(cumFunding) / scale1e9,
		MarginRatioInitial: float64(marginInit) / 1e4,
		MarginRatioMaint:   maintRatio,
	}
	return reserve, params, nil
}

// driftMarketMint is the synthetic asset identifier for a perp market;
// Drift markets are index-addressed rather than mint-addressed.
func driftMarketMint(index uint16) string {
	return "drift-perp-" + strconv.Itoa(int(index))
}

// DriftDecoder implements Decoder for Drift v2 perp/spot accounts.
type DriftDecoder struct {
	markets map[string]*DriftMarketParams // by reserve address
	byIndex map[uint16]string             // market index -> reserve address
}

// NewDriftDecoder creates a Drift decoder.
func NewDriftDecoder() *DriftDecoder {
	return &DriftDecoder{
		markets: make(map[string]*DriftMarketParams),
		byIndex: make(map[uint16]string),
	}
}

// Protocol returns the Drift tag.
func (d *DriftDecoder) Protocol() domain.Protocol {
	return domain.ProtocolDrift
}

// ReserveLen returns the Drift perp market account length.
func (d *DriftDecoder) ReserveLen() int {
	return driftPerpMarketLen
}

// DecodeReserve implements ReserveDecoder, indexing the market params.
func (d *DriftDecoder) DecodeReserve(data []byte, address string) (*domain.Reserve, error) {
	reserve, params, err := DecodeDriftPerpMarket(data, address)
	if err != nil {
		return nil, err
	}
	d.markets[address] = params
	d.byIndex[params.MarketIndex] = address
	return reserve, nil
}

// Positions builds one normalized position per Drift user account. Perp
// exposure enters as synthetic collateral (margin plus unrealized PnL and
// unsettled funding) against the maintenance margin requirement as debt.
func (d *DriftDecoder) Positions(data []byte, address string, reserves *ReserveCache, price PriceFn) ([]*domain.Position, error) {
	user, err := DecodeDriftUser(data, address)
	if err != nil {
		return nil, err
	}

	pos := &domain.Position{
		ID:       domain.PositionID(domain.ProtocolDrift, address),
		Protocol: domain.ProtocolDrift,
		Account:  address,
		Owner:    user.Authority,
	}

	var collateralUSD, maintRequirement float64
	var maintThreshold float64

	// Spot balances: USDC-denominated margin ledger.
	for _, spot := range user.SpotPositions {
		mint := "drift-spot-" + strconv.Itoa(int(spot.MarketIndex))
		px := 1.0
		if p, ok := price(mint); ok {
			px = p
		}
		value := spot.Balance * px
		if spot.IsBorrow {
			pos.Debt = append(pos.Debt, domain.DebtEntry{
				Mint:     mint,
				Amount:   spot.Balance,
				ValueUSD: value,
			})
			maintRequirement += value
		} else {
			pos.Collateral = append(pos.Collateral, domain.CollateralEntry{
				Mint:     mint,
				Amount:   spot.Balance,
				ValueUSD: value,
				PriceUSD: px,
			})
			collateralUSD += value
		}
	}

	for _, perp := range user.PerpPositions {
		marketAddr, ok := d.byIndex[perp.MarketIndex]
		if !ok {
			continue
		}
		params := d.markets[marketAddr]
		reserve := reserves.Get(marketAddr)
		if params == nil || reserve == nil {
			continue
		}
		mark := reserve.PriceUSD
		if p, ok := price(reserve.Mint); ok {
			mark = p
		}

		notional := math.Abs(perp.BaseAmount) * mark
		upnl := perp.UnrealizedPnL(mark)
		funding := perp.UnsettledFunding(params.CumulativeFunding)

		// Equity contribution of the perp leg.
		equity := upnl + funding
		if equity >= 0 {
			pos.Collateral = append(pos.Collateral, domain.CollateralEntry{
				Mint:     reserve.Mint,
				Amount:   math.Abs(perp.BaseAmount),
				ValueUSD: equity,
				PriceUSD: mark,
			})
			collateralUSD += equity
		} else {
			pos.Debt = append(pos.Debt, domain.DebtEntry{
				Mint:     reserve.Mint,
				Amount:   math.Abs(perp.BaseAmount),
				ValueUSD: -equity,
			})
			maintRequirement += -equity
		}
		requirement := notional * params.MarginRatioMaint
		maintRequirement += requirement
		if reserve.LiquidationThreshold > maintThreshold {
			maintThreshold = reserve.LiquidationThreshold
		}
	}

	if pos.IsEmpty() {
		return nil, nil
	}
	finishPosition(pos, collateralUSD, maintRequirement, maintThreshold, time.Now().UnixMilli())
	return []*domain.Position{pos}, nil
}
