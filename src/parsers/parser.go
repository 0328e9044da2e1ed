package parsers

import (
	"io"

	"github.com/username/coinfolio/src/models"
)

// Parser turns one exchange-history export into raw records.
type Parser interface {
	Parse(file io.Reader) ([]models.RawRecord, error)
}
