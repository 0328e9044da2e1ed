package reconciler

import (
	"os"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/username/coinfolio/src/logger"
	"github.com/username/coinfolio/src/models"
	"github.com/username/coinfolio/src/pricing"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// crossOracle quotes any pair from a table of reference-currency values.
type crossOracle map[string]float64

func (c crossOracle) GetPrice(sym models.Symbol, _ time.Time) (float64, error) {
	base, okBase := c[sym.Base]
	quote, okQuote := c[sym.Quote]
	if !okBase || !okQuote {
		return 0, pricing.ErrQuoteNotFound
	}
	return base / quote, nil
}

func (c crossOracle) Convert(asset models.AssetAmount, target string, at time.Time) (models.AssetAmount, error) {
	if asset.Symbol == target {
		return asset, nil
	}
	p, err := c.GetPrice(models.Symbol{Base: asset.Symbol, Quote: target}, at)
	if err != nil {
		return models.AssetAmount{}, err
	}
	return models.AssetAmount{Symbol: target, Amount: asset.Amount * p}, nil
}

var testOracle = crossOracle{"EUR": 1, "BTC": 10000, "ETH": 1000, "BNB": 100, "OAX": 0.1, "XRP": 0.5}

// memStore is an in-memory stand-in for the sqlite-backed operation store.
type memStore struct {
	pendingOps   []models.Operation
	pendingMarks map[string]int
	ops          []models.Operation
	marks        map[string]int
}

func newMemStore() *memStore {
	return &memStore{pendingMarks: map[string]int{}, marks: map[string]int{}}
}

func (s *memStore) AddOperations(ops []models.Operation) {
	s.pendingOps = append(s.pendingOps, ops...)
}

func (s *memStore) IsProcessed(file string, index int) bool {
	if mark, ok := s.pendingMarks[file]; ok && index <= mark {
		return true
	}
	mark, ok := s.marks[file]
	return ok && index <= mark
}

func (s *memStore) MarkProcessed(file string, index int) {
	s.pendingMarks[file] = index
}

func (s *memStore) Commit() error {
	s.ops = append(s.ops, s.pendingOps...)
	for file, mark := range s.pendingMarks {
		s.marks[file] = mark
	}
	s.pendingOps = nil
	s.pendingMarks = map[string]int{}
	return nil
}

func (s *memStore) AllOperations() ([]models.Operation, error) {
	return s.ops, nil
}

func ts(sec int) time.Time {
	return time.Date(2023, 6, 1, 10, 0, sec, 0, time.UTC)
}

func rec(t time.Time, typ models.RecordType, asset string, change float64) models.RawRecord {
	return models.RawRecord{AccountID: "1", Time: t, Account: "Spot", Type: typ, Asset: asset, Change: change}
}

func reconcile(t *testing.T, records []models.RawRecord) []models.Operation {
	t.Helper()
	r := New(testOracle, newMemStore(), DefaultConfig())
	ops, err := r.Reconcile(records, "history.csv")
	assert.NoError(t, err)
	return ops
}

func TestSingleExchangeBucket(t *testing.T) {
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordBuy, "BTC", 1),
		rec(ts(0), models.RecordSell, "EUR", -10000),
		rec(ts(0), models.RecordFee, "BNB", -0.075),
	})

	assert.Equal(t, 1, len(ops))
	ex, ok := ops[0].(models.Exchange)
	assert.True(t, ok, "expected Exchange, got %T", ops[0])
	assert.Equal(t, models.AssetAmount{Symbol: "EUR", Amount: 10000}, ex.Sold)
	assert.Equal(t, models.AssetAmount{Symbol: "BTC", Amount: 1}, ex.Bought)
	assert.Equal(t, models.AssetAmount{Symbol: "BNB", Amount: 0.075}, ex.Fee)
	assert.Equal(t, ts(0), ex.Time)
}

func TestMissingFeeIsPadded(t *testing.T) {
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordTransactionBuy, "ETH", 2),
		rec(ts(0), models.RecordTransactionSold, "EUR", -2000),
	})

	assert.Equal(t, 1, len(ops))
	ex := ops[0].(models.Exchange)
	assert.Equal(t, 0.0, ex.Fee.Amount)
}

func TestSimultaneousTradesAreAssignedDisjointly(t *testing.T) {
	// Two trades in the same second; the price deviation forces the only
	// plausible buy/sell pairing, the fee schedule picks the right fees.
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordBuy, "BTC", 1),
		rec(ts(0), models.RecordBuy, "ETH", 5),
		rec(ts(0), models.RecordSell, "EUR", -10000),
		rec(ts(0), models.RecordSell, "EUR", -5000),
		rec(ts(0), models.RecordFee, "BNB", -0.075),
		rec(ts(0), models.RecordFee, "BNB", -0.0375),
	})

	assert.Equal(t, 2, len(ops))
	byBought := map[string]models.Exchange{}
	for _, op := range ops {
		ex := op.(models.Exchange)
		byBought[ex.Bought.Symbol] = ex
	}
	assert.Equal(t, 10000.0, byBought["BTC"].Sold.Amount)
	assert.Equal(t, 0.075, byBought["BTC"].Fee.Amount)
	assert.Equal(t, 5000.0, byBought["ETH"].Sold.Amount)
	assert.Equal(t, 0.0375, byBought["ETH"].Fee.Amount)
}

func TestAmbiguousBucketWithNoPlausibleAssignmentFails(t *testing.T) {
	// Both buys fit the first sell and neither fits the second, so any
	// complete assignment includes an implausible pairing.
	r := New(testOracle, newMemStore(), DefaultConfig())
	_, err := r.Reconcile([]models.RawRecord{
		rec(ts(0), models.RecordBuy, "BTC", 1),
		rec(ts(0), models.RecordBuy, "ETH", 10),
		rec(ts(0), models.RecordSell, "EUR", -10000),
		rec(ts(0), models.RecordSell, "EUR", -100000),
	}, "history.csv")
	assert.IsError(t, err, ErrLowConfidenceMatch)
}

func TestCardinalityMismatchFails(t *testing.T) {
	r := New(testOracle, newMemStore(), DefaultConfig())
	_, err := r.Reconcile([]models.RawRecord{
		rec(ts(0), models.RecordBuy, "BTC", 1),
		rec(ts(0), models.RecordBuy, "ETH", 5),
		rec(ts(0), models.RecordSell, "EUR", -10000),
	}, "history.csv")
	assert.IsError(t, err, ErrCardinalityMismatch)
}

func TestConvertLegsClassifiedBySign(t *testing.T) {
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordConvert, "BTC", -0.1),
		rec(ts(1), models.RecordConvert, "ETH", 1), // sub-second skew is absorbed
	})

	assert.Equal(t, 1, len(ops))
	ex := ops[0].(models.Exchange)
	assert.Equal(t, "BTC", ex.Sold.Symbol)
	assert.Equal(t, "ETH", ex.Bought.Symbol)
}

func TestSmallAssetConversionPairsByRemark(t *testing.T) {
	buy1 := rec(ts(0), models.RecordSmallAssetsExchange, "BNB", 0.002)
	buy1.Remark = "OAX to BNB"
	buy2 := rec(ts(1), models.RecordSmallAssetsExchange, "BNB", 0.005)
	buy2.Remark = "XRP to BNB"
	ops := reconcile(t, []models.RawRecord{
		buy1,
		buy2,
		rec(ts(0), models.RecordSmallAssetsExchange, "OAX", -2),
		rec(ts(1), models.RecordSmallAssetsExchange, "XRP", -1),
	})

	assert.Equal(t, 2, len(ops))
	bySold := map[string]models.Exchange{}
	for _, op := range ops {
		ex := op.(models.Exchange)
		bySold[ex.Sold.Symbol] = ex
	}
	assert.Equal(t, 0.002, bySold["OAX"].Bought.Amount)
	assert.Equal(t, 0.005, bySold["XRP"].Bought.Amount)
}

func TestSmallAssetConversionFallsBackToPrices(t *testing.T) {
	// No remark hints: pairing falls back to the implied exchange rate.
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordSmallAssetsExchange, "BNB", 0.002),
		rec(ts(0), models.RecordSmallAssetsExchange, "BNB", 0.005),
		rec(ts(0), models.RecordSmallAssetsExchange, "OAX", -2),
		rec(ts(0), models.RecordSmallAssetsExchange, "XRP", -1),
	})

	assert.Equal(t, 2, len(ops))
	bySold := map[string]models.Exchange{}
	for _, op := range ops {
		ex := op.(models.Exchange)
		bySold[ex.Sold.Symbol] = ex
	}
	assert.Equal(t, 0.002, bySold["OAX"].Bought.Amount)
	assert.Equal(t, 0.005, bySold["XRP"].Bought.Amount)
}

func TestSimpleOperationMapping(t *testing.T) {
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordDeposit, "BTC", 1),
		rec(ts(10), models.RecordWithdraw, "BTC", -0.5),
		rec(ts(20), models.RecordDistribution, "BNB", 0.1),
		rec(ts(30), models.RecordMarginLoan, "ETH", 2),
		rec(ts(40), models.RecordMarginRepayment, "ETH", -2),
		rec(ts(50), models.RecordCardSpending, "EUR", -25),
	})

	assert.Equal(t, 6, len(ops))
	assert.Equal(t, models.Deposit{Asset: models.AssetAmount{Symbol: "BTC", Amount: 1}, Time: ts(0)}, ops[0].(models.Deposit))
	assert.Equal(t, models.Withdrawal{Asset: models.AssetAmount{Symbol: "BTC", Amount: 0.5}, Time: ts(10)}, ops[1].(models.Withdrawal))
	assert.Equal(t, models.GiftOperation{Asset: models.AssetAmount{Symbol: "BNB", Amount: 0.1}, Time: ts(20)}, ops[2].(models.GiftOperation))
	assert.Equal(t, models.MarginLoan{Asset: models.AssetAmount{Symbol: "ETH", Amount: 2}, Time: ts(30)}, ops[3].(models.MarginLoan))
	assert.Equal(t, models.MarginRepayment{Asset: models.AssetAmount{Symbol: "ETH", Amount: 2}, Time: ts(40)}, ops[4].(models.MarginRepayment))
	assert.Equal(t, models.Withdrawal{Asset: models.AssetAmount{Symbol: "EUR", Amount: 25}, Time: ts(50)}, ops[5].(models.Withdrawal))
}

func TestInternalTransfersAreIgnored(t *testing.T) {
	ops := reconcile(t, []models.RawRecord{
		rec(ts(0), models.RecordTransferFunding, "BTC", -1),
		rec(ts(10), models.RecordSubAccountTransfer, "BTC", 1),
		rec(ts(20), models.RecordDeposit, "ETH", 1),
	})

	assert.Equal(t, 1, len(ops))
	_, ok := ops[0].(models.Deposit)
	assert.True(t, ok)
}

func TestUnmappedRecordFailsTheBucket(t *testing.T) {
	r := New(testOracle, newMemStore(), DefaultConfig())
	_, err := r.Reconcile([]models.RawRecord{
		rec(ts(0), models.RecordFundingFee, "USDT", -1.5),
	}, "history.csv")
	assert.IsError(t, err, ErrUnresolvedRecords)
}

func TestReconcileResumesFromCheckpoint(t *testing.T) {
	records := []models.RawRecord{
		rec(ts(0), models.RecordDeposit, "BTC", 1),
		rec(ts(10), models.RecordBuy, "ETH", 1),
		rec(ts(10), models.RecordSell, "EUR", -1000),
	}
	store := newMemStore()

	r := New(testOracle, store, DefaultConfig())
	first, err := r.Reconcile(records, "history.csv")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(first))

	// A second pass over the same file emits nothing new.
	again, err := r.Reconcile(records, "history.csv")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(again))

	all, err := store.AllOperations()
	assert.NoError(t, err)
	assert.Equal(t, 2, len(all))
}

func TestReconcileIsDeterministic(t *testing.T) {
	records := []models.RawRecord{
		rec(ts(0), models.RecordBuy, "BTC", 1),
		rec(ts(0), models.RecordBuy, "ETH", 5),
		rec(ts(0), models.RecordSell, "EUR", -10000),
		rec(ts(0), models.RecordSell, "EUR", -5000),
		rec(ts(0), models.RecordFee, "BNB", -0.075),
		rec(ts(0), models.RecordFee, "BNB", -0.0375),
		rec(ts(30), models.RecordDeposit, "XRP", 100),
	}

	var runs [][]string
	for i := 0; i < 3; i++ {
		ops := reconcile(t, records)
		var rendered []string
		for _, op := range ops {
			rendered = append(rendered, op.String())
		}
		runs = append(runs, rendered)
	}
	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[1], runs[2])
}
