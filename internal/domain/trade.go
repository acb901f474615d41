package domain

import "time"

// Direction is the sign of a trade's price change since previous close.
type Direction int

const (
	DirectionDown Direction = -1
	DirectionFlat Direction = 0
	DirectionUp   Direction = 1
)

// Trade is the current snapshot of one tracked symbol.
// Symbol is the natural key; all other fields are replaced on every upsert.
type Trade struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	PriceChange   float64   `json:"price_change"`
	PercentChange float64   `json:"percentage_change"`
	Direction     Direction `json:"direction"`
	Sector        string    `json:"sector,omitempty"`
	AssetType     string    `json:"asset_type"`
	LastUpdated   time.Time `json:"last_updated"`
}

// DeriveTrade builds a Trade from a raw price and its previous-close baseline,
// computing the change, percentage and direction fields. The caller must have
// validated previousClose > 0 beforehand.
func DeriveTrade(symbol string, price, previousClose float64, ts time.Time) Trade {
	change := price - previousClose
	t := Trade{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: previousClose,
		PriceChange:   change,
		PercentChange: change / previousClose * 100,
		AssetType:     AssetTypeOf(symbol),
		LastUpdated:   ts,
	}
	switch {
	case change > 0:
		t.Direction = DirectionUp
	case change < 0:
		t.Direction = DirectionDown
	default:
		t.Direction = DirectionFlat
	}
	return t
}

// AssetTypeOf classifies a symbol as stock or crypto. Crypto symbols carry an
// exchange prefix separated by a colon (e.g. "BINANCE:BTCUSDT").
func AssetTypeOf(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == ':' {
			return "crypto"
		}
	}
	return "stock"
}
