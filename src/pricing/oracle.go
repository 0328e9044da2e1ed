package pricing

import (
	"errors"
	"time"

	"github.com/username/coinfolio/src/models"
)

// ErrQuoteNotFound reports that no price or conversion is available for a
// pair at a timestamp. Callers decide per operation whether that is fatal.
var ErrQuoteNotFound = errors.New("price quote not found")

// Oracle answers historical price questions by symbol pair and timestamp.
type Oracle interface {
	// GetPrice returns the price of one unit of sym.Base expressed in
	// sym.Quote at the given time, or ErrQuoteNotFound.
	GetPrice(sym models.Symbol, at time.Time) (float64, error)

	// Convert revalues an asset amount into the target symbol at the given
	// time, or returns ErrQuoteNotFound.
	Convert(asset models.AssetAmount, target string, at time.Time) (models.AssetAmount, error)
}
