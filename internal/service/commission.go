package service

import (
	"fmt"
	"time"

	"marketplace-settlement/config"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/pkg/apperror"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SplitCommission divides a vendor subtotal into the platform commission and
// the vendor's earnings. rate is a percentage in [0, 100]. Commission rounds
// half away from zero; earnings take the remainder so the two always sum to
// subtotal.
func SplitCommission(subtotal int64, rate decimal.Decimal) (commission, earnings int64, err error) {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return 0, 0, apperror.ErrCommissionRateOutOfRange()
	}
	if subtotal < 0 {
		return 0, 0, apperror.ErrInvalidAmount()
	}
	commission = percentOf(subtotal, rate)
	return commission, subtotal - commission, nil
}

// percentOf returns pct percent of amount in minor units, rounded half away
// from zero.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// allocate splits total across weights pro rata. Shares are floored and the
// last share absorbs the remainder, so the result always sums to total.
func allocate(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if len(weights) == 0 {
		return shares
	}

	var sum int64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		shares[len(shares)-1] = total
		return shares
	}

	t := decimal.NewFromInt(total)
	s := decimal.NewFromInt(sum)
	var given int64
	for i, w := range weights[:len(weights)-1] {
		shares[i] = t.Mul(decimal.NewFromInt(w)).Div(s).Floor().IntPart()
		given += shares[i]
	}
	shares[len(shares)-1] = total - given
	return shares
}

// PricingPolicy is the checkout pricing configuration.
type PricingPolicy struct {
	Currency              string
	FreeShippingThreshold int64
	FlatShippingFee       int64
	TaxPercent            decimal.Decimal
	OrderTTL              time.Duration
}

// PricingFromConfig builds a PricingPolicy from settlement config.
func PricingFromConfig(cfg config.SettlementConfig) (PricingPolicy, error) {
	tax, err := cfg.TaxRate()
	if err != nil {
		return PricingPolicy{}, fmt.Errorf("parsing tax percent: %w", err)
	}
	return PricingPolicy{
		Currency:              cfg.Currency,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShippingFee:       cfg.FlatShippingFee,
		TaxPercent:            tax,
		OrderTTL:              cfg.OrderTTL,
	}, nil
}

// ShippingFor returns the shipping cost for an order subtotal.
func (p PricingPolicy) ShippingFor(subtotal int64) int64 {
	if subtotal >= p.FreeShippingThreshold {
		return 0
	}
	return p.FlatShippingFee
}

// TaxFor returns the tax owed on an order subtotal.
func (p PricingPolicy) TaxFor(subtotal int64) int64 {
	return percentOf(subtotal, p.TaxPercent)
}

// PayoutPolicy is the withdrawal floor and fee schedule.
type PayoutPolicy struct {
	Currency   string
	Minimum    int64
	FeePercent decimal.Decimal
	FeeFlat    int64
	// ProcessingTimeout bounds how long a payout may wait in processing
	// without a transfer reference.
	ProcessingTimeout time.Duration
}

// PayoutPolicyFromConfig builds a PayoutPolicy from payout config.
func PayoutPolicyFromConfig(cfg config.PayoutConfig, currency string) (PayoutPolicy, error) {
	fee, err := cfg.FeeRate()
	if err != nil {
		return PayoutPolicy{}, fmt.Errorf("parsing payout fee percent: %w", err)
	}
	return PayoutPolicy{
		Currency:   currency,
		Minimum:    cfg.MinimumWithdrawal,
		FeePercent: fee,
		FeeFlat:    cfg.FeeFlat,

		ProcessingTimeout: cfg.ProcessingTimeout,
	}, nil
}

// Fees itemizes the fees on a requested payout amount.
func (p PayoutPolicy) Fees(amount int64) domain.FeeBreakdown {
	pct := percentOf(amount, p.FeePercent)
	return domain.FeeBreakdown{Percentage: pct, Flat: p.FeeFlat, Total: pct + p.FeeFlat}
}
