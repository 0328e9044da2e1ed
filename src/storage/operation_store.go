// Resumable store of canonical operations. The reconciler writes one batch
// per time bucket and advances a per-file high-water mark in the same
// transaction, so a crash mid-bucket never leaves operations persisted
// without the matching checkpoint.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/username/coinfolio/src/models"
)

// OperationStore persists canonical operations and per-file parse progress.
type OperationStore interface {
	AddOperations(ops []models.Operation)
	IsProcessed(file string, index int) bool
	MarkProcessed(file string, index int)
	Commit() error
	AllOperations() ([]models.Operation, error)
}

type sqliteStore struct {
	db *sql.DB

	pendingOps   []models.Operation
	pendingMarks map[string]int
	lastRecord   map[string]int // committed high-water marks, loaded lazily
}

func NewOperationStore(db *sql.DB) OperationStore {
	return &sqliteStore{
		db:           db,
		pendingMarks: map[string]int{},
		lastRecord:   map[string]int{},
	}
}

func (s *sqliteStore) AddOperations(ops []models.Operation) {
	s.pendingOps = append(s.pendingOps, ops...)
}

func (s *sqliteStore) IsProcessed(file string, index int) bool {
	if mark, ok := s.pendingMarks[file]; ok && index <= mark {
		return true
	}
	return index <= s.committedMark(file)
}

func (s *sqliteStore) MarkProcessed(file string, index int) {
	s.pendingMarks[file] = index
}

func (s *sqliteStore) committedMark(file string) int {
	if mark, ok := s.lastRecord[file]; ok {
		return mark
	}
	mark := -1
	err := s.db.QueryRow("SELECT last_record FROM parsed_files WHERE file = ?", file).Scan(&mark)
	if err != nil && err != sql.ErrNoRows {
		// Treat a read failure as "nothing parsed"; the commit path will
		// surface persistent database problems.
		mark = -1
	}
	s.lastRecord[file] = mark
	return mark
}

// Commit writes the buffered operations and checkpoint marks atomically.
func (s *sqliteStore) Commit() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin operation store commit: %w", err)
	}
	defer tx.Rollback()

	for _, op := range s.pendingOps {
		row := rowFromOperation(op)
		_, err := tx.Exec(`INSERT INTO operations
			(type, time, symbol, amount, sold_asset, sold_amount, bought_asset, bought_amount, fee_asset, fee_amount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.kind, row.time, row.symbol, row.amount,
			row.soldAsset, row.soldAmount, row.boughtAsset, row.boughtAmount,
			row.feeAsset, row.feeAmount)
		if err != nil {
			return fmt.Errorf("insert operation %s: %w", op, err)
		}
	}
	for file, mark := range s.pendingMarks {
		_, err := tx.Exec(`INSERT INTO parsed_files (file, last_record) VALUES (?, ?)
			ON CONFLICT(file) DO UPDATE SET last_record = excluded.last_record`,
			file, mark)
		if err != nil {
			return fmt.Errorf("update checkpoint for %s: %w", file, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit operation store: %w", err)
	}

	for file, mark := range s.pendingMarks {
		s.lastRecord[file] = mark
	}
	s.pendingOps = nil
	s.pendingMarks = map[string]int{}
	return nil
}

// AllOperations returns every committed operation in insertion order.
func (s *sqliteStore) AllOperations() ([]models.Operation, error) {
	rows, err := s.db.Query(`SELECT type, time, symbol, amount,
		sold_asset, sold_amount, bought_asset, bought_amount, fee_asset, fee_amount
		FROM operations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var r operationRow
		err := rows.Scan(&r.kind, &r.time, &r.symbol, &r.amount,
			&r.soldAsset, &r.soldAmount, &r.boughtAsset, &r.boughtAmount,
			&r.feeAsset, &r.feeAmount)
		if err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		op, err := r.toOperation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// operationRow is the flattened database shape shared by every operation
// kind: symbol/amount for single-asset operations, the sold/bought/fee
// triple for exchanges.
type operationRow struct {
	kind   string
	time   string
	symbol sql.NullString
	amount sql.NullFloat64

	soldAsset    sql.NullString
	soldAmount   sql.NullFloat64
	boughtAsset  sql.NullString
	boughtAmount sql.NullFloat64
	feeAsset     sql.NullString
	feeAmount    sql.NullFloat64
}

const (
	kindDeposit         = "Deposit"
	kindWithdrawal      = "Withdrawal"
	kindGift            = "GiftOperation"
	kindExchange        = "Exchange"
	kindFeePayment      = "FeePayment"
	kindMarginLoan      = "MarginLoan"
	kindMarginRepayment = "MarginRepayment"
)

func rowFromOperation(op models.Operation) operationRow {
	row := operationRow{time: op.OperationTime().UTC().Format(time.RFC3339)}
	setAsset := func(kind string, a models.AssetAmount) {
		row.kind = kind
		row.symbol = sql.NullString{String: a.Symbol, Valid: true}
		row.amount = sql.NullFloat64{Float64: a.Amount, Valid: true}
	}
	switch o := op.(type) {
	case models.Exchange:
		row.kind = kindExchange
		row.symbol = sql.NullString{String: o.Sold.Symbol, Valid: true}
		row.soldAsset = sql.NullString{String: o.Sold.Symbol, Valid: true}
		row.soldAmount = sql.NullFloat64{Float64: o.Sold.Amount, Valid: true}
		row.boughtAsset = sql.NullString{String: o.Bought.Symbol, Valid: true}
		row.boughtAmount = sql.NullFloat64{Float64: o.Bought.Amount, Valid: true}
		row.feeAsset = sql.NullString{String: o.Fee.Symbol, Valid: true}
		row.feeAmount = sql.NullFloat64{Float64: o.Fee.Amount, Valid: true}
	case models.Deposit:
		setAsset(kindDeposit, o.Asset)
	case models.Withdrawal:
		setAsset(kindWithdrawal, o.Asset)
	case models.GiftOperation:
		setAsset(kindGift, o.Asset)
	case models.FeePayment:
		setAsset(kindFeePayment, o.Asset)
	case models.MarginLoan:
		setAsset(kindMarginLoan, o.Asset)
	case models.MarginRepayment:
		setAsset(kindMarginRepayment, o.Asset)
	}
	return row
}

func (r operationRow) toOperation() (models.Operation, error) {
	t, err := time.Parse(time.RFC3339, r.time)
	if err != nil {
		return nil, fmt.Errorf("parse stored operation time %q: %w", r.time, err)
	}
	t = t.UTC()
	asset := models.AssetAmount{Symbol: r.symbol.String, Amount: r.amount.Float64}
	switch r.kind {
	case kindExchange:
		return models.Exchange{
			Sold:   models.AssetAmount{Symbol: r.soldAsset.String, Amount: r.soldAmount.Float64},
			Bought: models.AssetAmount{Symbol: r.boughtAsset.String, Amount: r.boughtAmount.Float64},
			Fee:    models.AssetAmount{Symbol: r.feeAsset.String, Amount: r.feeAmount.Float64},
			Time:   t,
		}, nil
	case kindDeposit:
		return models.Deposit{Asset: asset, Time: t}, nil
	case kindWithdrawal:
		return models.Withdrawal{Asset: asset, Time: t}, nil
	case kindGift:
		return models.GiftOperation{Asset: asset, Time: t}, nil
	case kindFeePayment:
		return models.FeePayment{Asset: asset, Time: t}, nil
	case kindMarginLoan:
		return models.MarginLoan{Asset: asset, Time: t}, nil
	case kindMarginRepayment:
		return models.MarginRepayment{Asset: asset, Time: t}, nil
	default:
		return nil, fmt.Errorf("unknown stored operation type %q", r.kind)
	}
}
