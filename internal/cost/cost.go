// Package cost derives the token split and monetary cost of a completed
// chat exchange from a model's price record.
package cost

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tokenmeter/gateway/internal/pricing"
)

var ErrEmptyExchange = errors.New("exchange contains no messages")

// Counter counts tokens in a piece of text. Implementations must be
// deterministic and side-effect free.
type Counter interface {
	Count(text string) int
}

// Breakdown is the result of costing one exchange.
type Breakdown struct {
	InputTokens  int
	OutputTokens int
	InputCost    decimal.Decimal
	OutputCost   decimal.Decimal
	TotalCost    decimal.Decimal
}

// Compute costs an exchange against a price record. The last message is
// the model's generated reply; its count is the output. Every message in
// the exchange, prior turns included, contributes to the total, and input
// is total minus output — a single-message exchange has zero input tokens.
// Prices are per one million tokens; all arithmetic stays decimal so the
// result can be subtracted from a stored balance without drift.
func Compute(counter Counter, messages []string, price *pricing.ModelPrice) (*Breakdown, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyExchange
	}

	total := 0
	for _, m := range messages {
		total += counter.Count(m)
	}
	outputTokens := counter.Count(messages[len(messages)-1])
	inputTokens := total - outputTokens

	// Shift(-6) divides by 1e6 exactly, no rounding.
	inputCost := price.InputPrice.Mul(decimal.NewFromInt(int64(inputTokens))).Shift(-6)
	outputCost := price.OutputPrice.Mul(decimal.NewFromInt(int64(outputTokens))).Shift(-6)

	return &Breakdown{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost.Add(outputCost),
	}, nil
}
