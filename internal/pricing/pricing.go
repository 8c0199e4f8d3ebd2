package pricing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrPriceNotFound = errors.New("model price not found")

// ModelPrice is the per-model price record. Prices are USD per one million
// tokens. The core only reads these rows; maintenance happens elsewhere.
type ModelPrice struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	InputPrice  decimal.Decimal `json:"input_price"`
	OutputPrice decimal.Decimal `json:"output_price"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (p *ModelPrice) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (p *ModelPrice) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

type Store interface {
	GetByID(ctx context.Context, modelID string) (*ModelPrice, error)
	List(ctx context.Context) ([]*ModelPrice, error)
	Create(ctx context.Context, price *ModelPrice) error
}
