// The portfolio is a per-asset stack of cost-basis lots plus a signed
// reference-currency balance. Lots are consumed LIFO; the balance is a plain
// scalar and may go negative (unfunded withdrawals).
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/username/coinfolio/src/models"
)

const (
	// SmallAmountThreshold merges incoming amounts below this into the last
	// lot regardless of price, bounding lot-list growth from dust trades.
	SmallAmountThreshold = 1e-4
	// PriceMergeThreshold is the relative price difference under which a new
	// acquisition is merged into the last lot at a weighted average price.
	PriceMergeThreshold = 1e-3
	// ResidualEpsilon is the tolerated rounding residue after consuming all
	// lots of a symbol.
	ResidualEpsilon = 1e-7
)

var (
	ErrInsufficientLot         = errors.New("insufficient balance")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	errReferenceCurrencyPrice  = fmt.Errorf("%w: price of the reference currency must be 1", ErrInvalidConfiguration)
)

type Portfolio struct {
	currency  models.Position // reference-currency pseudo-lot, price fixed at 1
	positions map[string][]models.Position
}

// New creates a portfolio denominated in the given reference currency,
// optionally seeded with initial lots (replayed through Add, so merge rules
// apply).
func New(currency string, initial []models.Position) (*Portfolio, error) {
	p := &Portfolio{
		currency:  models.Position{Symbol: currency, Amount: 0, Price: 1, CreationTime: time.Unix(0, 0).UTC()},
		positions: map[string][]models.Position{},
	}
	for _, pos := range initial {
		asset := models.AssetAmount{Symbol: pos.Symbol, Amount: pos.Amount}
		if err := p.Add(asset, pos.Price, pos.CreationTime); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Portfolio) Currency() string { return p.currency.Symbol }

// Add appends an acquisition to the ledger. Reference-currency adds must
// come at price 1; other assets merge into the most recent lot when the
// price matches closely or the amount is dust, otherwise a new lot is
// pushed.
func (p *Portfolio) Add(asset models.AssetAmount, price float64, t time.Time) error {
	if asset.Symbol == p.currency.Symbol {
		if price != 1 {
			return errReferenceCurrencyPrice
		}
		p.currency.Amount += asset.Amount
		return nil
	}

	lots := p.positions[asset.Symbol]
	if len(lots) > 0 {
		last := &lots[len(lots)-1]
		switch {
		case price == last.Price:
			// Exact match also covers repeated zero-price entries.
			last.Amount += asset.Amount
			return nil
		case relativeDiff(last.Price, price) < PriceMergeThreshold,
			math.Abs(asset.Amount) < SmallAmountThreshold:
			mergeLot(last, asset.Amount, price)
			return nil
		}
	}
	p.positions[asset.Symbol] = append(lots, models.Position{
		Symbol:       asset.Symbol,
		Amount:       asset.Amount,
		Price:        price,
		CreationTime: t,
	})
	return nil
}

// Remove consumes the requested amount LIFO and returns the lots (or lot
// fractions) taken, carrying their original cost bases. Removing the
// reference currency always succeeds and may push the balance negative.
func (p *Portfolio) Remove(asset models.AssetAmount) ([]models.Position, error) {
	if asset.Symbol == p.currency.Symbol {
		p.currency.Amount -= asset.Amount
		return []models.Position{{
			Symbol:       asset.Symbol,
			Amount:       asset.Amount,
			Price:        1,
			CreationTime: time.Unix(0, 0).UTC(),
		}}, nil
	}

	remaining := asset.Amount
	var consumed []models.Position

	lots := p.positions[asset.Symbol]
	for len(lots) > 0 && remaining > 0 {
		last := &lots[len(lots)-1]
		take := math.Min(remaining, last.Amount)
		last.Amount -= take
		remaining -= take
		consumed = append(consumed, models.Position{
			Symbol:       last.Symbol,
			Amount:       take,
			Price:        last.Price,
			CreationTime: last.CreationTime,
		})
		if last.Amount == 0 {
			lots = lots[:len(lots)-1]
		}
	}
	p.positions[asset.Symbol] = lots

	if math.Abs(remaining) > ResidualEpsilon {
		return nil, fmt.Errorf("%w: not enough %s in the portfolio, remaining %v",
			ErrInsufficientLot, asset.Symbol, remaining)
	}
	if len(consumed) == 0 {
		// Zero-net request over an empty stack: callers rely on a non-empty
		// result for bookkeeping.
		consumed = append(consumed, models.Position{Symbol: asset.Symbol})
	}
	return consumed, nil
}

// Total returns the held amount of one symbol.
func (p *Portfolio) Total(symbol string) float64 {
	if symbol == p.currency.Symbol {
		return p.currency.Amount
	}
	total := 0.0
	for _, lot := range p.positions[symbol] {
		total += lot.Amount
	}
	return total
}

// Positions returns every lot whose absolute value is at least minValue,
// plus the reference-currency balance if it clears the floor. Lots are
// ordered by symbol, then acquisition order.
func (p *Portfolio) Positions(minValue float64) []models.Position {
	symbols := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var result []models.Position
	for _, sym := range symbols {
		for _, lot := range p.positions[sym] {
			if math.Abs(lot.Value()) >= minValue {
				result = append(result, lot)
			}
		}
	}
	if math.Abs(p.currency.Amount) >= minValue {
		result = append(result, p.currency)
	}
	return result
}

// mergeLot folds an acquisition into an existing lot at the amount-weighted
// average of the two prices.
func mergeLot(lot *models.Position, amount, price float64) {
	if lot.Amount+amount != 0 {
		lot.Price = (lot.Price*lot.Amount + price*amount) / (lot.Amount + amount)
	}
	lot.Amount += amount
}

func relativeDiff(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return math.Abs(a-b) * 2 / math.Abs(a+b)
}
