// Parser for the Binance "transaction history" CSV export: seven quoted
// fields per line, one header row.
package binance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/username/coinfolio/src/models"
	"github.com/username/coinfolio/src/utils"
)

type BinanceParser struct{}

func NewParser() *BinanceParser {
	return &BinanceParser{}
}

func (p *BinanceParser) Parse(file io.Reader) ([]models.RawRecord, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []models.RawRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		if len(row) < 7 {
			return nil, fmt.Errorf("line %d: expected 7 fields, got %d", line, len(row))
		}

		t, err := utils.ParseUTCTime(row[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp %q: %w", line, row[1], err)
		}

		// An unknown operation label is a hard error: silently skipping a
		// line would corrupt the downstream tax computation.
		recordType, err := models.ParseRecordType(row[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		change, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, row[5], err)
		}

		records = append(records, models.RawRecord{
			AccountID: row[0],
			Time:      t,
			Account:   row[2],
			Type:      recordType,
			Asset:     row[4],
			Change:    change,
			Remark:    row[6],
		})
	}
	return records, nil
}
