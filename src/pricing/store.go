package pricing

import (
	"database/sql"
	"fmt"
	"time"
)

// Store persists historical pair prices in the prices table. Quotes are
// keyed by pair symbol and unix timestamp; lookups accept the closest
// stored quote within a tolerance window.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Put(symbol string, at time.Time, price float64) error {
	_, err := s.db.Exec(`INSERT INTO prices (symbol, ts, price) VALUES (?, ?, ?)
		ON CONFLICT(symbol, ts) DO UPDATE SET price = excluded.price`,
		symbol, at.UTC().Unix(), price)
	if err != nil {
		return fmt.Errorf("store price for %s: %w", symbol, err)
	}
	return nil
}

// Get returns the stored price closest to the requested time, if any quote
// lies within the tolerance window.
func (s *Store) Get(symbol string, at time.Time, tolerance time.Duration) (float64, bool) {
	ts := at.UTC().Unix()
	var price float64
	var gotTS int64
	err := s.db.QueryRow(`SELECT price, ts FROM prices WHERE symbol = ? AND ts BETWEEN ? AND ?
		ORDER BY ABS(ts - ?) LIMIT 1`,
		symbol, ts-int64(tolerance.Seconds()), ts+int64(tolerance.Seconds()), ts).
		Scan(&price, &gotTS)
	if err != nil {
		return 0, false
	}
	return price, true
}
