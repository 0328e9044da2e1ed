package models

import (
	"fmt"
	"time"
)

// Operation is one canonical, unambiguous ledger operation produced by the
// reconciler and consumed by the tax engine. The union is closed: the engine
// dispatches over the concrete types below and treats anything else as a
// programming error.
type Operation interface {
	OperationTime() time.Time
	fmt.Stringer

	// sealed limits implementations to this package.
	sealed()
}

// Deposit moves an asset onto the exchange; it sets the asset's cost basis
// to the market price at deposit time.
type Deposit struct {
	Asset AssetAmount
	Time  time.Time
}

// Withdrawal moves an asset off the exchange; withdrawing anything but the
// reference currency is a taxable disposal.
type Withdrawal struct {
	Asset AssetAmount
	Time  time.Time
}

// GiftOperation is any incoming asset with no purchase cost (cashback,
// airdrop, staking interest, ...). Taxable at fair value.
type GiftOperation struct {
	Asset AssetAmount
	Time  time.Time
}

// Exchange trades the sold asset for the bought one, minus a fee.
type Exchange struct {
	Sold   AssetAmount
	Bought AssetAmount
	Fee    AssetAmount
	Time   time.Time
}

// FeePayment is a standalone fee charge with no matching trade.
type FeePayment struct {
	Asset AssetAmount
	Time  time.Time
}

// MarginLoan adds borrowed principal to the account. Not income.
type MarginLoan struct {
	Asset AssetAmount
	Time  time.Time
}

// MarginRepayment returns borrowed principal. Not a disposal.
type MarginRepayment struct {
	Asset AssetAmount
	Time  time.Time
}

func (o Deposit) OperationTime() time.Time         { return o.Time }
func (o Withdrawal) OperationTime() time.Time      { return o.Time }
func (o GiftOperation) OperationTime() time.Time   { return o.Time }
func (o Exchange) OperationTime() time.Time        { return o.Time }
func (o FeePayment) OperationTime() time.Time      { return o.Time }
func (o MarginLoan) OperationTime() time.Time      { return o.Time }
func (o MarginRepayment) OperationTime() time.Time { return o.Time }

func (o Deposit) String() string {
	return fmt.Sprintf("%s Deposit %s", o.Time.Format(time.DateTime), o.Asset)
}
func (o Withdrawal) String() string {
	return fmt.Sprintf("%s Withdrawal %s", o.Time.Format(time.DateTime), o.Asset)
}
func (o GiftOperation) String() string {
	return fmt.Sprintf("%s Gift %s", o.Time.Format(time.DateTime), o.Asset)
}
func (o Exchange) String() string {
	return fmt.Sprintf("%s Traded %s for %s (%s fee)", o.Time.Format(time.DateTime), o.Sold, o.Bought, o.Fee)
}
func (o FeePayment) String() string {
	return fmt.Sprintf("%s FeePayment %s", o.Time.Format(time.DateTime), o.Asset)
}
func (o MarginLoan) String() string {
	return fmt.Sprintf("%s MarginLoan %s", o.Time.Format(time.DateTime), o.Asset)
}
func (o MarginRepayment) String() string {
	return fmt.Sprintf("%s MarginRepayment %s", o.Time.Format(time.DateTime), o.Asset)
}

func (Deposit) sealed()         {}
func (Withdrawal) sealed()      {}
func (GiftOperation) sealed()   {}
func (Exchange) sealed()        {}
func (FeePayment) sealed()      {}
func (MarginLoan) sealed()      {}
func (MarginRepayment) sealed() {}

// Price returns the trade price of the bought asset in units of the sold one.
func (o Exchange) Price() float64 {
	return o.Sold.Amount / o.Bought.Amount
}
