package models

import (
	"fmt"
	"time"
)

// RecordType is the operation label of one raw transaction-history line.
// The vocabulary is closed: a label outside this set is a parse error.
type RecordType string

const (
	RecordDeposit                    RecordType = "Deposit"
	RecordWithdraw                   RecordType = "Withdraw"
	RecordSell                       RecordType = "Sell"
	RecordBuy                        RecordType = "Buy"
	RecordFee                        RecordType = "Fee"
	RecordTransactionSold            RecordType = "Transaction Sold"
	RecordTransactionRevenue         RecordType = "Transaction Revenue"
	RecordTransactionFee             RecordType = "Transaction Fee"
	RecordTransactionBuy             RecordType = "Transaction Buy"
	RecordTransactionSpend           RecordType = "Transaction Spend"
	RecordSmallAssetsExchange        RecordType = "Small Assets Exchange BNB"
	RecordCardCashback               RecordType = "Binance Card Cashback"
	RecordCardSpending               RecordType = "Binance Card Spending"
	RecordNFTTransaction             RecordType = "NFT Transaction"
	RecordDistribution               RecordType = "Distribution"
	RecordSwapFarmingRewards         RecordType = "Swap Farming Rewards"
	RecordLiquidSwapAddSell          RecordType = "Liquid Swap Add/Sell"
	RecordLiquidityFarmingRemove     RecordType = "Liquidity Farming Remove"
	RecordConvert                    RecordType = "Binance Convert"
	RecordMissionReward              RecordType = "Mission Reward Distribution"
	RecordAssetRecovery              RecordType = "Asset Recovery"
	RecordSubAccountTransfer         RecordType = "Sub-account Transfer"
	RecordTransferFunding            RecordType = "Transfer Between Main and Funding Wallet"
	RecordTransferUMFutures          RecordType = "Transfer Between Spot Account and UM Futures Account"
	RecordTransferFutures            RecordType = "Transfer Between Main Account and Futures Account"
	RecordTransferC2C                RecordType = "Transfer Between Spot Account and C2C Account"
	RecordTransferMargin             RecordType = "Transfer Between Main Account/Futures and Margin Account"
	RecordFundingFee                 RecordType = "Funding Fee"
	RecordMarginRepayment            RecordType = "Margin Repayment"
	RecordEarnFlexibleSubscription   RecordType = "Simple Earn Flexible Subscription"
	RecordRealizedProfitAndLoss      RecordType = "Realized Profit and Loss"
	RecordSmallAssetsLiquidation     RecordType = "Small Assets Conversion for Liquidation"
	RecordEarnFlexibleRedemption     RecordType = "Simple Earn Flexible Redemption"
	RecordEarnFlexibleInterest       RecordType = "Simple Earn Flexible Interest"
	RecordAirdropAssets              RecordType = "Airdrop Assets"
	RecordMarginLoan                 RecordType = "Margin Loan"
	RecordTransactionRelated         RecordType = "Transaction Related"
	RecordStakingRewards             RecordType = "Staking Rewards"
	RecordTokenSwapRebranding        RecordType = "Token Swap - Redenomination/Rebranding"
)

var recordTypes = map[string]RecordType{}

func init() {
	for _, t := range []RecordType{
		RecordDeposit, RecordWithdraw, RecordSell, RecordBuy, RecordFee,
		RecordTransactionSold, RecordTransactionRevenue, RecordTransactionFee,
		RecordTransactionBuy, RecordTransactionSpend, RecordSmallAssetsExchange,
		RecordCardCashback, RecordCardSpending, RecordNFTTransaction,
		RecordDistribution, RecordSwapFarmingRewards, RecordLiquidSwapAddSell,
		RecordLiquidityFarmingRemove, RecordConvert, RecordMissionReward,
		RecordAssetRecovery, RecordSubAccountTransfer, RecordTransferFunding,
		RecordTransferUMFutures, RecordTransferFutures, RecordTransferC2C,
		RecordTransferMargin, RecordFundingFee, RecordMarginRepayment,
		RecordEarnFlexibleSubscription, RecordRealizedProfitAndLoss,
		RecordSmallAssetsLiquidation, RecordEarnFlexibleRedemption,
		RecordEarnFlexibleInterest, RecordAirdropAssets, RecordMarginLoan,
		RecordTransactionRelated, RecordStakingRewards, RecordTokenSwapRebranding,
	} {
		recordTypes[string(t)] = t
	}
}

// ErrUnknownRecordType is returned when a history line carries an operation
// label outside the closed vocabulary.
var ErrUnknownRecordType = fmt.Errorf("unknown record type")

// ParseRecordType validates a raw operation label against the vocabulary.
func ParseRecordType(label string) (RecordType, error) {
	if t, ok := recordTypes[label]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRecordType, label)
}

// RawRecord is one line of the exchange transaction history, exactly as
// reported: a single user action may span several raw records.
type RawRecord struct {
	AccountID string
	Time      time.Time // UTC
	Account   string    // account tag, e.g. "Spot"
	Type      RecordType
	Asset     string
	Change    float64 // signed
	Remark    string
}

func (r RawRecord) String() string {
	return fmt.Sprintf("%s %s %v %s", r.Time.Format("2006-01-02 15:04:05"), r.Type, r.Change, r.Asset)
}
