// Package fee computes merchant/platform splits and gateway fees.
// All functions are pure; amounts are rounded only at the monetary boundary.
package fee

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Config holds the pricing knobs. Nil fields mean "not configured" and fall
// back to zero.
type Config struct {
	FeePct    *decimal.Decimal // percentage charged by the gateway, e.g. 1.95
	FlatFee   *decimal.Decimal // fixed per-transaction gateway charge
	MarkupPct *decimal.Decimal // platform's cut on top of the base price
}

// Calculator applies a resolved Config.
type Calculator struct {
	feePct    decimal.Decimal
	flatFee   decimal.Decimal
	markupPct decimal.Decimal
}

// NewCalculator resolves cfg, logging every knob that falls back to zero.
func NewCalculator(cfg Config, logger *zerolog.Logger) *Calculator {
	c := &Calculator{}
	c.feePct = resolve(cfg.FeePct, "fee_pct", logger)
	c.flatFee = resolve(cfg.FlatFee, "flat_fee", logger)
	c.markupPct = resolve(cfg.MarkupPct, "markup_pct", logger)
	return c
}

func resolve(v *decimal.Decimal, name string, logger *zerolog.Logger) decimal.Decimal {
	if v != nil {
		return *v
	}
	if logger != nil {
		logger.Warn().Str("component", "FeeCalculator").Str("setting", name).Msg("pricing setting not configured; using 0")
	}
	return decimal.Zero
}

func (c *Calculator) MarkupPct() decimal.Decimal { return c.markupPct }

// GatewayFee estimates the provider's charge for amount: amount*feePct/100 + flatFee.
func (c *Calculator) GatewayFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(c.feePct).Div(hundred).Add(c.flatFee)
}

// CheckoutAmount is what the payer is charged at the hosted checkout: the
// payer absorbs the gateway fee.
func (c *Calculator) CheckoutAmount(amount decimal.Decimal) decimal.Decimal {
	return Round(amount.Add(c.GatewayFee(amount)))
}

// PlatformShare is the configured markup's part of a marked-up amount.
func (c *Calculator) PlatformShare(markedUp decimal.Decimal) decimal.Decimal {
	return PlatformShare(markedUp, c.markupPct)
}

// PriceWithMarkup returns base * (1 + markupPct/100).
func PriceWithMarkup(base, markupPct decimal.Decimal) decimal.Decimal {
	return base.Mul(markupFactor(markupPct))
}

// BasePrice is the exact inverse of PriceWithMarkup.
func BasePrice(markedUp, markupPct decimal.Decimal) decimal.Decimal {
	return markedUp.DivRound(markupFactor(markupPct), 16)
}

// PlatformShare returns markedUp - BasePrice(markedUp, markupPct).
func PlatformShare(markedUp, markupPct decimal.Decimal) decimal.Decimal {
	return markedUp.Sub(BasePrice(markedUp, markupPct))
}

func markupFactor(markupPct decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(markupPct.Div(hundred))
}

// Round rounds half away from zero to cents.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ToMinorUnits converts an amount to integer minor units (e.g. pesewas).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return Round(amount).Mul(hundred).IntPart()
}
