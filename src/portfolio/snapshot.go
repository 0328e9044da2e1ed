package portfolio

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/username/coinfolio/src/models"
)

// Snapshot is the checkpoint file shape: the reference-currency balance plus
// every lot, flattened. Re-importing a snapshot replays its lots through Add,
// so the rebuilt ledger is equivalent (not necessarily lot-for-lot identical,
// merge thresholds apply) and answers the same totals.
type Snapshot struct {
	Currency  string            `json:"currency"`
	Balance   float64           `json:"balance"`
	Positions []models.Position `json:"positions"`
}

// Export captures the current ledger state.
func (p *Portfolio) Export() Snapshot {
	return Snapshot{
		Currency:  p.currency.Symbol,
		Balance:   p.currency.Amount,
		Positions: p.Positions(0),
	}
}

// FromSnapshot rebuilds a portfolio from a checkpoint.
func FromSnapshot(s Snapshot) (*Portfolio, error) {
	var lots []models.Position
	for _, pos := range s.Positions {
		if pos.Symbol == s.Currency {
			// The balance field is authoritative for the reference currency.
			continue
		}
		lots = append(lots, pos)
	}
	p, err := New(s.Currency, lots)
	if err != nil {
		return nil, err
	}
	p.currency.Amount = s.Balance
	return p, nil
}

// SaveSnapshot writes a checkpoint file.
func SaveSnapshot(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode portfolio snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write portfolio snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot reads a checkpoint file.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read portfolio snapshot %s: %w", path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode portfolio snapshot %s: %w", path, err)
	}
	return s, nil
}
