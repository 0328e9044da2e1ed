package binance

import (
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/username/coinfolio/src/models"
)

const sampleHistory = `"User_ID","UTC_Time","Account","Operation","Coin","Change","Remark"
"12345678","2022-03-01 09:30:00","Spot","Deposit","BTC","0.50000000",""
"12345678","2022-03-01 10:15:42","Spot","Buy","ETH","2.00000000",""
"12345678","2022-03-01 10:15:42","Spot","Sell","EUR","-5200.00000000",""
"12345678","2022-03-01 10:15:42","Spot","Fee","BNB","-0.01200000",""
"12345678","2022-04-12 18:00:01","Spot","Small Assets Exchange BNB","BNB","0.00210000","OAX to BNB"
"12345678","2022-04-12 18:00:01","Spot","Small Assets Exchange BNB","OAX","-2.10000000","OAX to BNB"
`

func TestParseHistory(t *testing.T) {
	parser := NewParser()
	records, err := parser.Parse(strings.NewReader(sampleHistory))
	assert.NoError(t, err)
	assert.Equal(t, 6, len(records))

	first := records[0]
	assert.Equal(t, "12345678", first.AccountID)
	assert.Equal(t, time.Date(2022, 3, 1, 9, 30, 0, 0, time.UTC), first.Time)
	assert.Equal(t, "Spot", first.Account)
	assert.Equal(t, models.RecordDeposit, first.Type)
	assert.Equal(t, "BTC", first.Asset)
	assert.Equal(t, 0.5, first.Change)

	sell := records[2]
	assert.Equal(t, models.RecordSell, sell.Type)
	assert.Equal(t, -5200.0, sell.Change)

	dust := records[4]
	assert.Equal(t, models.RecordSmallAssetsExchange, dust.Type)
	assert.Equal(t, "OAX to BNB", dust.Remark)
}

func TestParseEmptyInput(t *testing.T) {
	parser := NewParser()
	records, err := parser.Parse(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(records))
}

func TestParseUnknownOperationFails(t *testing.T) {
	input := `"User_ID","UTC_Time","Account","Operation","Coin","Change","Remark"
"12345678","2022-03-01 09:30:00","Spot","Mystery Operation","BTC","1.0",""
`
	parser := NewParser()
	_, err := parser.Parse(strings.NewReader(input))
	assert.IsError(t, err, models.ErrUnknownRecordType)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseBadTimestampFails(t *testing.T) {
	input := `"User_ID","UTC_Time","Account","Operation","Coin","Change","Remark"
"12345678","01/03/2022 09:30","Spot","Deposit","BTC","1.0",""
`
	parser := NewParser()
	_, err := parser.Parse(strings.NewReader(input))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timestamp")
}

func TestParseBadAmountFails(t *testing.T) {
	input := `"User_ID","UTC_Time","Account","Operation","Coin","Change","Remark"
"12345678","2022-03-01 09:30:00","Spot","Deposit","BTC","one",""
`
	parser := NewParser()
	_, err := parser.Parse(strings.NewReader(input))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
}
