// The reconciler groups raw, individually ambiguous history records into
// canonical operations. Records emitted by one user action share a timestamp
// (within sub-second skew for multi-leg conversions); within such a bucket,
// buy/sell/fee legs are paired by least-error assignment against the price
// oracle. Progress is checkpointed through the operation store once per
// bucket, so a long reconciliation can be interrupted and resumed.
package reconciler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/username/coinfolio/src/logger"
	"github.com/username/coinfolio/src/models"
	"github.com/username/coinfolio/src/pricing"
	"github.com/username/coinfolio/src/storage"
)

var (
	ErrCardinalityMismatch = errors.New("bucket cardinality mismatch")
	ErrUnresolvedRecords   = errors.New("unresolved records in bucket")
	ErrLowConfidenceMatch  = errors.New("low confidence match")
)

// groupTimeTolerance absorbs the timestamp skew between legs of one
// multi-leg conversion.
const groupTimeTolerance = 1500 * time.Millisecond

// Config carries the reconciliation-confidence parameters. The defaults are
// empirically chosen; do not change them without evidence from real data.
type Config struct {
	PriceDeviationLimit float64
	FeeErrorWeight      float64
	MaxCombinationError float64
}

func DefaultConfig() Config {
	return Config{
		PriceDeviationLimit: 0.2,
		FeeErrorWeight:      0.2,
		MaxCombinationError: 2.0,
	}
}

// Record-type membership sets driving classification.
var (
	exchangeSellTypes = typeSet(models.RecordSell, models.RecordTransactionSold, models.RecordTransactionSpend)
	exchangeBuyTypes  = typeSet(models.RecordBuy, models.RecordTransactionBuy, models.RecordTransactionRevenue)
	exchangeFeeTypes  = typeSet(models.RecordFee, models.RecordTransactionFee)
	giftTypes         = typeSet(models.RecordCardCashback, models.RecordDistribution,
		models.RecordSwapFarmingRewards, models.RecordMissionReward,
		models.RecordRealizedProfitAndLoss, models.RecordEarnFlexibleInterest,
		models.RecordAirdropAssets)
	// Internal transfers with no tax effect.
	ignoreTypes = typeSet(models.RecordAssetRecovery, models.RecordSubAccountTransfer,
		models.RecordTransferFunding, models.RecordTransferUMFutures,
		models.RecordTransferFutures, models.RecordTransferC2C,
		models.RecordTransferMargin, models.RecordSmallAssetsLiquidation)
)

func typeSet(types ...models.RecordType) map[models.RecordType]bool {
	set := make(map[models.RecordType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func isExchangeType(t models.RecordType) bool {
	return exchangeBuyTypes[t] || exchangeSellTypes[t] || exchangeFeeTypes[t]
}

type Reconciler struct {
	oracle pricing.Oracle
	store  storage.OperationStore
	cfg    Config

	// per-run state
	file    string
	records []models.RawRecord // remaining input, stored reversed as a stack
	buffer  []*models.RawRecord
	next    int // index of the most recently popped record
	pending []models.Operation
	emitted []models.Operation
}

func New(oracle pricing.Oracle, store storage.OperationStore, cfg Config) *Reconciler {
	return &Reconciler{oracle: oracle, store: store, cfg: cfg}
}

// Reconcile converts raw records from one history file into canonical
// operations, persisting them (and the per-file checkpoint) one time bucket
// at a time. Records already covered by the stored checkpoint are skipped,
// so re-running over the same file produces no duplicate operations.
func (r *Reconciler) Reconcile(records []models.RawRecord, file string) ([]models.Operation, error) {
	r.file = file
	r.next = -1
	r.buffer = nil
	r.pending = nil
	r.emitted = nil
	r.records = make([]models.RawRecord, len(records))
	for i, rec := range records {
		r.records[len(records)-1-i] = rec
	}

	for len(r.records) > 0 || len(r.buffer) > 0 {
		r.loadBuffer()
		if err := r.matchExchanges(); err != nil {
			return nil, err
		}
		if err := r.matchSmallAssetConversions(); err != nil {
			return nil, err
		}
		if err := r.mapSimpleOperations(); err != nil {
			return nil, err
		}
		if len(r.buffer) > 0 {
			return nil, fmt.Errorf("%w: %d records left at %s, first: %s",
				ErrUnresolvedRecords, len(r.buffer),
				r.buffer[0].Time.Format(time.DateTime), r.buffer[0])
		}

		r.store.AddOperations(r.pending)
		r.store.MarkProcessed(r.file, r.next)
		if err := r.store.Commit(); err != nil {
			return nil, fmt.Errorf("checkpoint %s at record %d: %w", r.file, r.next, err)
		}
		logger.L.Debug("Committed bucket", "file", r.file, "lastRecord", r.next, "operations", len(r.pending))
		r.emitted = append(r.emitted, r.pending...)
		r.pending = nil
	}
	return r.emitted, nil
}

// loadBuffer starts the next time bucket: it takes the first retained record
// and, for exchange-like records, keeps absorbing records that share its
// exact timestamp or sit within the group tolerance of a multi-leg
// conversion.
func (r *Reconciler) loadBuffer() {
	if len(r.records) == 0 {
		return
	}
	rec := r.popRecord()
	for rec != nil && ignoreTypes[rec.Type] {
		rec = r.popRecord()
	}
	if rec == nil {
		return
	}
	r.buffer = append(r.buffer, rec)

	groupable := isExchangeType(rec.Type) ||
		rec.Type == models.RecordConvert ||
		rec.Type == models.RecordSmallAssetsExchange
	if !groupable {
		return
	}
	for {
		if len(r.records) == 0 {
			return
		}
		peek := r.records[len(r.records)-1]
		sameTime := peek.Time.Equal(rec.Time)
		closeTime := absDuration(rec.Time.Sub(peek.Time)) < groupTimeTolerance
		sameGroup := peek.Type == models.RecordConvert || peek.Type == models.RecordSmallAssetsExchange
		if !sameTime && !(closeTime && sameGroup) {
			return
		}
		next := r.popRecord()
		if next == nil {
			return
		}
		r.buffer = append(r.buffer, next)
	}
}

// popRecord pops the next input record, skipping any whose index the store
// has already checkpointed.
func (r *Reconciler) popRecord() *models.RawRecord {
	if len(r.records) == 0 {
		return nil
	}
	rec := r.pop()
	for r.store.IsProcessed(r.file, r.next) && len(r.records) > 0 {
		rec = r.pop()
	}
	if r.store.IsProcessed(r.file, r.next) {
		return nil
	}
	return rec
}

func (r *Reconciler) pop() *models.RawRecord {
	rec := r.records[len(r.records)-1]
	r.records = r.records[:len(r.records)-1]
	r.next++
	return &rec
}

// matchExchanges pairs the bucket's buy/sell/fee legs into exchanges.
func (r *Reconciler) matchExchanges() error {
	var buys, sells, fees []*models.RawRecord
	for _, rec := range r.buffer {
		switch {
		case exchangeBuyTypes[rec.Type] || (rec.Type == models.RecordConvert && rec.Change > 0):
			buys = append(buys, rec)
		case exchangeSellTypes[rec.Type] || (rec.Type == models.RecordConvert && rec.Change < 0):
			sells = append(sells, rec)
		case exchangeFeeTypes[rec.Type]:
			fees = append(fees, rec)
		}
	}

	// Not every trade is charged a fee: pad with zero placeholders so the
	// assignment below never fails on cardinality alone.
	for len(fees) < len(buys) {
		fees = append(fees, &models.RawRecord{Time: buys[0].Time, Type: models.RecordFee, Asset: "BNB"})
	}

	if len(buys) != len(sells) || len(fees) != len(buys) {
		return fmt.Errorf("%w: %d buys, %d sells, %d fees at %s",
			ErrCardinalityMismatch, len(buys), len(sells), len(fees),
			r.buffer[0].Time.Format(time.DateTime))
	}
	if len(buys) == 0 {
		return nil
	}

	taken := map[*models.RawRecord]bool{}

	if len(buys) == 1 {
		op, err := certain(buys[0], sells[0], fees[0]).operation(r.cfg.MaxCombinationError)
		if err != nil {
			return err
		}
		r.emit(op)
		taken[buys[0]], taken[sells[0]], taken[fees[0]] = true, true, true
		r.dropTaken(taken)
		return nil
	}

	n := len(buys)
	combs := make([]*combination, 0, n*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				combs = append(combs, &combination{buy: buys[i], sell: sells[j], fee: fees[k]})
			}
		}
	}
	// Stable sort keeps input order on equal errors, making tie-breaking
	// deterministic.
	sort.SliceStable(combs, func(a, b int) bool {
		return combs[a].errorScore(r.oracle, r.cfg) < combs[b].errorScore(r.oracle, r.cfg)
	})

	var chosen []*combination
	for _, c := range combs {
		if taken[c.buy] || taken[c.sell] || taken[c.fee] {
			continue
		}
		chosen = append(chosen, c)
		taken[c.buy], taken[c.sell], taken[c.fee] = true, true, true
		if len(chosen) == n {
			break
		}
	}
	for _, c := range chosen {
		op, err := c.operation(r.cfg.MaxCombinationError)
		if err != nil {
			return err
		}
		r.emit(op)
	}
	r.dropTaken(taken)
	return nil
}

// matchSmallAssetConversions handles dust-to-BNB consolidation buckets: the
// BNB credits are buys, everything else sold dust. The remark of a credit
// names the spent asset, so remark pairing runs first and price-based
// matching only covers what the hint leaves unresolved.
func (r *Reconciler) matchSmallAssetConversions() error {
	var buys, sells []*models.RawRecord
	for _, rec := range r.buffer {
		if rec.Type != models.RecordSmallAssetsExchange {
			continue
		}
		if rec.Asset == "BNB" {
			buys = append(buys, rec)
		} else {
			sells = append(sells, rec)
		}
	}

	if len(buys) != len(sells) {
		return fmt.Errorf("%w: %d buys, %d sells in small-asset conversion at %s",
			ErrCardinalityMismatch, len(buys), len(sells),
			r.buffer[0].Time.Format(time.DateTime))
	}
	if len(buys) == 0 {
		return nil
	}

	taken := map[*models.RawRecord]bool{}

	if len(buys) == 1 {
		op, err := certain(buys[0], sells[0], nil).operation(r.cfg.MaxCombinationError)
		if err != nil {
			return err
		}
		r.emit(op)
		taken[buys[0]], taken[sells[0]] = true, true
		r.dropTaken(taken)
		return nil
	}

	var leftoverBuys []*models.RawRecord
	for _, buy := range buys {
		matched := false
		for _, sell := range sells {
			if taken[sell] {
				continue
			}
			if firstToken(buy.Remark) == sell.Asset {
				op, err := certain(buy, sell, nil).operation(r.cfg.MaxCombinationError)
				if err != nil {
					return err
				}
				r.emit(op)
				taken[buy], taken[sell] = true, true
				matched = true
				break
			}
		}
		if !matched {
			leftoverBuys = append(leftoverBuys, buy)
		}
	}
	var leftoverSells []*models.RawRecord
	for _, sell := range sells {
		if !taken[sell] {
			leftoverSells = append(leftoverSells, sell)
		}
	}

	n := len(leftoverBuys)
	combs := make([]*combination, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			combs = append(combs, &combination{buy: leftoverBuys[i], sell: leftoverSells[j]})
		}
	}
	sort.SliceStable(combs, func(a, b int) bool {
		return combs[a].errorScore(r.oracle, r.cfg) < combs[b].errorScore(r.oracle, r.cfg)
	})

	chosen := 0
	for _, c := range combs {
		if taken[c.buy] || taken[c.sell] {
			continue
		}
		op, err := c.operation(r.cfg.MaxCombinationError)
		if err != nil {
			return err
		}
		r.emit(op)
		taken[c.buy], taken[c.sell] = true, true
		if chosen++; chosen == n {
			break
		}
	}
	r.dropTaken(taken)
	return nil
}

// mapSimpleOperations converts the bucket's remaining records by direct type
// mapping; anything unmapped stays in the buffer and fails the run.
func (r *Reconciler) mapSimpleOperations() error {
	buffer := r.buffer
	r.buffer = nil
	for _, rec := range buffer {
		asset := models.AssetAmount{Symbol: rec.Asset, Amount: rec.Change}
		switch {
		case rec.Type == models.RecordWithdraw:
			if rec.Change > 0 {
				return fmt.Errorf("withdraw record with positive amount: %s", rec)
			}
			r.emit(models.Withdrawal{Asset: models.AssetAmount{Symbol: rec.Asset, Amount: -rec.Change}, Time: rec.Time})
		case rec.Type == models.RecordDeposit:
			r.emit(models.Deposit{Asset: asset, Time: rec.Time})
		case giftTypes[rec.Type]:
			r.emit(models.GiftOperation{Asset: asset, Time: rec.Time})
		case rec.Type == models.RecordCardSpending:
			if rec.Change < 0 {
				r.emit(models.Withdrawal{Asset: models.AssetAmount{Symbol: rec.Asset, Amount: -rec.Change}, Time: rec.Time})
			} else {
				r.emit(models.Deposit{Asset: asset, Time: rec.Time})
			}
		case rec.Type == models.RecordNFTTransaction:
			if rec.Change > 0 {
				r.emit(models.GiftOperation{Asset: asset, Time: rec.Time})
			} else {
				r.emit(models.Withdrawal{Asset: models.AssetAmount{Symbol: rec.Asset, Amount: -rec.Change}, Time: rec.Time})
			}
		case rec.Type == models.RecordMarginLoan:
			r.emit(models.MarginLoan{Asset: asset, Time: rec.Time})
		case rec.Type == models.RecordMarginRepayment:
			if rec.Change > 0 {
				return fmt.Errorf("margin repayment record with positive amount: %s", rec)
			}
			r.emit(models.MarginRepayment{Asset: models.AssetAmount{Symbol: rec.Asset, Amount: -rec.Change}, Time: rec.Time})
		default:
			r.buffer = append(r.buffer, rec)
		}
	}
	return nil
}

func (r *Reconciler) emit(op models.Operation) {
	r.pending = append(r.pending, op)
}

func (r *Reconciler) dropTaken(taken map[*models.RawRecord]bool) {
	var kept []*models.RawRecord
	for _, rec := range r.buffer {
		if !taken[rec] {
			kept = append(kept, rec)
		}
	}
	r.buffer = kept
}

func firstToken(remark string) string {
	return strings.SplitN(remark, " ", 2)[0]
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
