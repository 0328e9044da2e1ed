// The tax engine replays canonical operations in chronological order against
// the portfolio ledger and accumulates realized capital gain under Italian
// crypto rules: disposals into the reference currency realize gain, asset
// swaps carry cost basis forward, fees decompose into synthetic trades.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/username/coinfolio/src/logger"
	"github.com/username/coinfolio/src/models"
	"github.com/username/coinfolio/src/portfolio"
	"github.com/username/coinfolio/src/pricing"
)

// Options tunes gain recognition; zero value means fee value reduces the
// gain accumulator directly and fees are valued at trade time.
type Options struct {
	// IncludeFeeInCostBasis folds fee value into the cost basis of asset
	// swaps instead of deducting it from the accumulated gain.
	IncludeFeeInCostBasis bool
	// FeePriceDayGranularity values fees at whole-day timestamps, cutting
	// oracle lookups on dense trade history.
	FeePriceDayGranularity bool

	Gains GainObserver
	Flows FlowObserver
}

type Engine struct {
	currency string
	oracle   pricing.Oracle
	pf       *portfolio.Portfolio
	opts     Options

	capitalGain     float64
	feePaid         float64
	operationsCount int
}

func New(pf *portfolio.Portfolio, oracle pricing.Oracle, opts Options) *Engine {
	if opts.Gains == nil {
		opts.Gains = noopGainObserver{}
	}
	if opts.Flows == nil {
		opts.Flows = noopFlowObserver{}
	}
	return &Engine{
		currency: pf.Currency(),
		oracle:   oracle,
		pf:       pf,
		opts:     opts,
	}
}

func (e *Engine) CapitalGain() float64  { return e.capitalGain }
func (e *Engine) FeePaid() float64      { return e.feePaid }
func (e *Engine) OperationsCount() int  { return e.operationsCount }
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// ProcessOperations replays operations, which must already be in
// non-decreasing time order. Within a same-timestamp batch, margin loans run
// first and margin repayments last, so borrowed principal exists before any
// same-instant trade spends it.
func (e *Engine) ProcessOperations(ops []models.Operation) error {
	for i := 0; i < len(ops); {
		j := i + 1
		for j < len(ops) && ops[j].OperationTime().Equal(ops[i].OperationTime()) {
			j++
		}
		batch := make([]models.Operation, j-i)
		copy(batch, ops[i:j])
		if len(batch) > 1 {
			sort.SliceStable(batch, func(a, b int) bool {
				return marginRank(batch[a]) < marginRank(batch[b])
			})
		}
		for _, op := range batch {
			before := e.capitalGain
			if err := e.ProcessOperation(op); err != nil {
				return err
			}
			if gain := e.capitalGain - before; gain != 0 {
				e.opts.Gains.GainRecognized(op, gain)
			}
		}
		i = j
	}
	return nil
}

func marginRank(op models.Operation) int {
	switch op.(type) {
	case models.MarginLoan:
		return 0
	case models.MarginRepayment:
		return 2
	default:
		return 1
	}
}

// ProcessOperation applies one operation. The union is closed; every kind
// must be handled here.
func (e *Engine) ProcessOperation(op models.Operation) error {
	var err error
	switch o := op.(type) {
	case models.Deposit:
		err = e.processDeposit(o)
	case models.Withdrawal:
		err = e.processWithdrawal(o, true)
	case models.GiftOperation:
		err = e.processGift(o)
	case models.Exchange:
		err = e.processExchange(o, true)
	case models.FeePayment:
		err = e.processFeePayment(o)
	case models.MarginLoan:
		err = e.processMarginLoan(o)
	case models.MarginRepayment:
		err = e.processMarginRepayment(o)
	default:
		return fmt.Errorf("operation not recognized: %T", op)
	}
	if err != nil {
		return err
	}
	e.operationsCount++
	return nil
}

// processDeposit adds the asset at the current market price. A missing quote
// understates future cost basis (price 0) instead of blocking ingestion.
func (e *Engine) processDeposit(dep models.Deposit) error {
	price := 1.0
	detail := "price: 1"
	if dep.Asset.Symbol != e.currency {
		p, err := e.oracle.GetPrice(models.Symbol{Base: dep.Asset.Symbol, Quote: e.currency}, dep.Time)
		switch {
		case errors.Is(err, pricing.ErrQuoteNotFound):
			logger.L.Warn("No quote for deposit, using zero cost basis", "operation", dep.String())
			p = 0
			detail = "no quote, zero cost basis"
		case err != nil:
			return fmt.Errorf("deposit %s: %w", dep, err)
		default:
			detail = fmt.Sprintf("price: %v", p)
		}
		price = p
	}
	if err := e.pf.Add(dep.Asset, price, dep.Time); err != nil {
		return fmt.Errorf("deposit %s: %w", dep, err)
	}
	e.opts.Flows.Movement(dep, detail)
	return nil
}

// processWithdrawal removes the asset. Withdrawing anything but the
// reference currency first disposes of it through a synthetic trade, then
// withdraws the resulting currency.
func (e *Engine) processWithdrawal(w models.Withdrawal, logIt bool) error {
	initial := e.capitalGain

	if w.Asset.Symbol != e.currency {
		converted, err := e.oracle.Convert(w.Asset, e.currency, w.Time)
		if errors.Is(err, pricing.ErrQuoteNotFound) {
			logger.L.Warn("No quote for withdrawal, removing without gain recognition", "operation", w.String())
			if _, err := e.pf.Remove(w.Asset); err != nil {
				return fmt.Errorf("withdrawal %s: %w", w, err)
			}
			if logIt {
				e.opts.Flows.Movement(w, "no quote, removed without gain recognition")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("withdrawal %s: %w", w, err)
		}
		trade := models.Exchange{Sold: w.Asset, Bought: converted, Fee: e.nullAmount(), Time: w.Time}
		if err := e.processExchange(trade, false); err != nil {
			return err
		}
		if err := e.processWithdrawal(models.Withdrawal{Asset: converted, Time: w.Time}, false); err != nil {
			return err
		}
	} else {
		if _, err := e.pf.Remove(w.Asset); err != nil {
			return fmt.Errorf("withdrawal %s: %w", w, err)
		}
	}

	if logIt {
		e.opts.Flows.Movement(w, fmt.Sprintf("capital gain: %v", e.capitalGain-initial))
	}
	return nil
}

// processGift recognizes incoming assets with no purchase cost at fair
// value: the full converted value is gain, and the same per-unit price
// becomes the cost basis.
func (e *Engine) processGift(g models.GiftOperation) error {
	converted, err := e.oracle.Convert(g.Asset, e.currency, g.Time)
	if errors.Is(err, pricing.ErrQuoteNotFound) {
		logger.L.Warn("No quote for gift, adding at zero cost basis", "operation", g.String())
		if err := e.pf.Add(g.Asset, 0, g.Time); err != nil {
			return fmt.Errorf("gift %s: %w", g, err)
		}
		e.opts.Flows.Movement(g, "no quote, zero cost basis, no gain recognized")
		return nil
	}
	if err != nil {
		return fmt.Errorf("gift %s: %w", g, err)
	}

	price := converted.Amount / g.Asset.Amount
	e.capitalGain += converted.Amount
	if err := e.pf.Add(g.Asset, price, g.Time); err != nil {
		return fmt.Errorf("gift %s: %w", g, err)
	}
	e.opts.Flows.Movement(g, fmt.Sprintf("price: %v - capital gain: %v", price, converted.Amount))
	return nil
}

// processExchange is the central gain-recognition rule.
//
// The fee is valued in the reference currency up front, the sold lots are
// consumed, and the operation branches on whether the bought side is the
// reference currency (a disposal) or another asset (a swap that carries cost
// basis forward). A fee paid in a non-reference asset is itself disposed of
// at the end through a synthetic trade; that recursion is depth 1 because
// the synthetic trade carries no fee.
func (e *Engine) processExchange(t models.Exchange, logIt bool) error {
	disposal := t.Bought.Symbol == e.currency
	feeNetted := !disposal && t.Fee.Symbol == t.Bought.Symbol && t.Fee.Amount > 0

	var feeValue float64
	if t.Fee.Amount > 0 && !feeNetted {
		if t.Fee.Symbol == e.currency {
			feeValue = t.Fee.Amount
		} else {
			converted, err := e.oracle.Convert(t.Fee, e.currency, e.feeTime(t.Time))
			if err != nil {
				return fmt.Errorf("fee of trade %s: %w", t, err)
			}
			feeValue = converted.Amount
		}
	}

	soldLots, err := e.pf.Remove(t.Sold)
	if err != nil {
		return fmt.Errorf("trade %s: %w", t, err)
	}

	if disposal {
		e.capitalGain -= feeValue
		if err := e.pf.Add(t.Bought, 1, t.Time); err != nil {
			return fmt.Errorf("trade %s: %w", t, err)
		}
		perUnit := t.Bought.Amount / t.Sold.Amount
		for _, lot := range soldLots {
			if lot.Amount == 0 {
				continue
			}
			e.capitalGain += lot.Amount * (perUnit - lot.Price)
		}
	} else if t.Fee.Amount == 0 || feeNetted {
		// Fee paid in the bought asset (or no fee): net it out of the
		// bought amount, the cost carried is the sold lots' cost.
		for _, lot := range soldLots {
			if lot.Amount == 0 {
				continue
			}
			share := lot.Amount / t.Sold.Amount
			feePart := t.Fee.Amount * share
			boughtPart := t.Bought.Amount*share - feePart
			price := lot.Amount * lot.Price / boughtPart
			add := models.AssetAmount{Symbol: t.Bought.Symbol, Amount: boughtPart}
			if err := e.pf.Add(add, price, t.Time); err != nil {
				return fmt.Errorf("trade %s: %w", t, err)
			}
		}
	} else {
		// Fee paid in a third asset: each consumed lot carries its share of
		// the fee, either folded into the new cost basis or deducted from
		// the gain accumulator.
		for _, lot := range soldLots {
			if lot.Amount == 0 {
				continue
			}
			share := lot.Amount / t.Sold.Amount
			boughtPart := t.Bought.Amount * share
			feeValuePart := feeValue * share
			spent := lot.Amount * lot.Price
			if e.opts.IncludeFeeInCostBasis {
				spent += feeValuePart
			} else {
				e.capitalGain -= feeValuePart
			}
			add := models.AssetAmount{Symbol: t.Bought.Symbol, Amount: boughtPart}
			if err := e.pf.Add(add, spent/boughtPart, t.Time); err != nil {
				return fmt.Errorf("trade %s: %w", t, err)
			}
		}
	}

	// Dispose of the fee itself through the same rule.
	if t.Fee.Amount > 0 && !feeNetted {
		synthetic := models.Exchange{
			Sold:   t.Fee,
			Bought: models.AssetAmount{Symbol: e.currency, Amount: feeValue},
			Fee:    e.nullAmount(),
			Time:   t.Time,
		}
		if err := e.processExchange(synthetic, false); err != nil {
			return err
		}
		if _, err := e.pf.Remove(models.AssetAmount{Symbol: e.currency, Amount: feeValue}); err != nil {
			return fmt.Errorf("fee of trade %s: %w", t, err)
		}
		e.feePaid += feeValue
	}

	if logIt {
		e.opts.Flows.Movement(t, fmt.Sprintf("fee value: %v", feeValue))
	}
	return nil
}

// processFeePayment disposes of the fee asset and deducts its value from the
// accumulated gain. A missing quote is fatal here: the charge cannot be
// valued any other way.
func (e *Engine) processFeePayment(f models.FeePayment) error {
	converted, err := e.oracle.Convert(f.Asset, e.currency, f.Time)
	if err != nil {
		return fmt.Errorf("fee payment %s: %w", f, err)
	}
	trade := models.Exchange{Sold: f.Asset, Bought: converted, Fee: e.nullAmount(), Time: f.Time}
	if err := e.processExchange(trade, false); err != nil {
		return err
	}
	if _, err := e.pf.Remove(converted); err != nil {
		return fmt.Errorf("fee payment %s: %w", f, err)
	}
	e.capitalGain -= converted.Amount
	e.feePaid += converted.Amount
	return nil
}

// processMarginLoan adds borrowed principal at market price. No gain: a loan
// is a liability, not income.
func (e *Engine) processMarginLoan(ml models.MarginLoan) error {
	price := 0.0
	converted, err := e.oracle.Convert(ml.Asset, e.currency, ml.Time)
	switch {
	case errors.Is(err, pricing.ErrQuoteNotFound):
		logger.L.Warn("No quote for margin loan, using zero cost basis", "operation", ml.String())
	case err != nil:
		return fmt.Errorf("margin loan %s: %w", ml, err)
	default:
		price = converted.Amount / ml.Asset.Amount
	}
	if err := e.pf.Add(ml.Asset, price, ml.Time); err != nil {
		return fmt.Errorf("margin loan %s: %w", ml, err)
	}
	return nil
}

func (e *Engine) processMarginRepayment(mr models.MarginRepayment) error {
	if _, err := e.pf.Remove(mr.Asset); err != nil {
		return fmt.Errorf("margin repayment %s: %w", mr, err)
	}
	return nil
}

func (e *Engine) feeTime(t time.Time) time.Time {
	if e.opts.FeePriceDayGranularity {
		return t.UTC().Truncate(24 * time.Hour)
	}
	return t
}

func (e *Engine) nullAmount() models.AssetAmount {
	return models.AssetAmount{Symbol: e.currency, Amount: 0}
}
