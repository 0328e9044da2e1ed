package reconciler

import (
	"fmt"
	"math"

	"github.com/username/coinfolio/src/models"
	"github.com/username/coinfolio/src/pricing"
)

const (
	// scoreSentinel marks a combination that must never be chosen over a
	// plausible one.
	scoreSentinel = 1e10

	// Exchange fee schedule: the discounted rate applies when the fee is
	// paid in the exchange token.
	discountFeeAsset      = "BNB"
	feeRatioDiscountAsset = 0.00075
	feeRatioDefault       = 0.001

	// Conversion noise can push the expected minimum fee implausibly low;
	// these floors keep the fee error meaningful for the two assets fees
	// are commonly charged in.
	minFeeBNB = 1.07e-6
	minFeeBTC = 1e-8
)

// combination is one hypothesis pairing a buy, a sell and optionally a fee
// record into a single exchange.
type combination struct {
	buy  *models.RawRecord
	sell *models.RawRecord
	fee  *models.RawRecord

	score *float64 // memoized error
}

// certain returns a combination with error pinned to zero, for buckets where
// no ambiguity exists.
func certain(buy, sell, fee *models.RawRecord) *combination {
	zero := 0.0
	return &combination{buy: buy, sell: sell, fee: fee, score: &zero}
}

func (c *combination) valid() bool {
	if c.buy == nil || c.sell == nil {
		return false
	}
	if c.buy.AccountID != c.sell.AccountID {
		return false
	}
	// Padded fee placeholders carry no account id and match anything.
	if c.fee != nil && c.fee.AccountID != "" && c.fee.AccountID != c.buy.AccountID {
		return false
	}
	return c.buy.Asset != c.sell.Asset
}

// errorScore rates how implausible this pairing is: the relative deviation
// of the implied exchange rate from the oracle rate, blended with a
// down-weighted fee deviation. The result is memoized.
func (c *combination) errorScore(oracle pricing.Oracle, cfg Config) float64 {
	if c.score != nil {
		return *c.score
	}
	score := c.computeScore(oracle, cfg)
	c.score = &score
	return score
}

func (c *combination) computeScore(oracle pricing.Oracle, cfg Config) float64 {
	if !c.valid() {
		return scoreSentinel
	}

	observed := math.Abs(c.sell.Change / c.buy.Change)
	expected, err := oracle.GetPrice(models.Symbol{Base: c.buy.Asset, Quote: c.sell.Asset}, c.buy.Time)
	if err != nil {
		return scoreSentinel
	}
	deviation := math.Abs(observed-expected) / expected
	if deviation > cfg.PriceDeviationLimit {
		return scoreSentinel
	}

	feeError := 0.0
	if c.fee != nil && c.fee.Change != 0 {
		ratio := feeRatioDefault
		if c.fee.Asset == discountFeeAsset {
			ratio = feeRatioDiscountAsset
		}
		expectedFee := models.AssetAmount{Symbol: c.buy.Asset, Amount: math.Abs(c.buy.Change) * ratio}
		converted, err := oracle.Convert(expectedFee, c.fee.Asset, c.fee.Time)
		if err != nil {
			return scoreSentinel
		}
		switch {
		case converted.Symbol == "BNB" && converted.Amount < minFeeBNB:
			converted.Amount = minFeeBNB
		case converted.Symbol == "BTC" && converted.Amount < minFeeBTC:
			converted.Amount = minFeeBTC
		}
		feeError = math.Abs(converted.Amount-math.Abs(c.fee.Change)) / converted.Amount
	}

	return deviation + cfg.FeeErrorWeight*feeError
}

// operation converts an accepted combination into a canonical exchange,
// refusing combinations whose error exceeds the hard ceiling.
func (c *combination) operation(maxError float64) (models.Exchange, error) {
	score := scoreSentinel
	if c.score != nil {
		score = *c.score
	}
	if score > maxError {
		return models.Exchange{}, fmt.Errorf("%w: error %g exceeds ceiling %g for buy %s / sell %s",
			ErrLowConfidenceMatch, score, maxError, c.buy, c.sell)
	}

	fee := models.AssetAmount{Symbol: c.buy.Asset, Amount: 0}
	if c.fee != nil {
		fee = models.AssetAmount{Symbol: c.fee.Asset, Amount: math.Abs(c.fee.Change)}
	}
	return models.Exchange{
		Sold:   models.AssetAmount{Symbol: c.sell.Asset, Amount: math.Abs(c.sell.Change)},
		Bought: models.AssetAmount{Symbol: c.buy.Asset, Amount: math.Abs(c.buy.Change)},
		Fee:    fee,
		Time:   c.buy.Time,
	}, nil
}
