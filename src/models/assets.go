package models

import (
	"fmt"
	"time"
)

// AssetAmount is a quantity of one asset. The sign convention is
// caller-defined: raw records carry signed changes, canonical operations
// carry magnitudes.
type AssetAmount struct {
	Symbol string
	Amount float64
}

func (a AssetAmount) String() string {
	return fmt.Sprintf("%v %s", a.Amount, a.Symbol)
}

// Symbol is a trading pair, quoted as base priced in quote.
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Key() string    { return s.Base + s.Quote }
func (s Symbol) Reverse() Symbol { return Symbol{Base: s.Quote, Quote: s.Base} }
func (s Symbol) String() string { return s.Key() }

// Position is a cost-basis lot: an amount of one asset acquired at a unit
// price in the reference currency at a given time.
type Position struct {
	Symbol       string    `json:"symbol"`
	Amount       float64   `json:"amount"`
	Price        float64   `json:"price"` // reference currency per unit
	CreationTime time.Time `json:"creation_time"`
}

// Value is the position's worth at its acquisition price.
func (p Position) Value() float64 { return p.Amount * p.Price }

func (p Position) String() string {
	return fmt.Sprintf("%s: %v @ %v (%v)", p.Symbol, p.Amount, p.Price, p.Value())
}
