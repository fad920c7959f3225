package budget

import (
	"strings"
	"unicode/utf8"
)

// Price is the rate card for one model. Token prices are USD per 1M tokens.
// A non-zero PerCall makes the model flat-priced.
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
	PerCall          float64 `yaml:"per_call" json:"per_call"`
}

// Cost prices a single call.
func (p Price) Cost(inputTokens, outputTokens int) float64 {
	if p.PerCall > 0 {
		return p.PerCall
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

var (
	DefaultTextPrice  = Price{InputPerMillion: 0.00125, OutputPerMillion: 0.01}
	DefaultImagePrice = Price{PerCall: 0.0003}
)

// PriceTable maps model ids to prices.
type PriceTable map[string]Price

// DefaultPrices covers the models used out of the box.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gemini-2.5-pro":         DefaultTextPrice,
		"gemini-2.5-flash-image": DefaultImagePrice,
	}
}

// Lookup returns the price for model. Unknown image models get the default
// image price, every other unknown model is billed as the default text model.
func (t PriceTable) Lookup(model string) Price {
	if p, ok := t[model]; ok {
		return p
	}
	if strings.Contains(strings.ToLower(model), "image") {
		return DefaultImagePrice
	}
	return DefaultTextPrice
}

// EstimateTokens approximates a prompt's token count at four characters per token.
func EstimateTokens(prompt string) int {
	n := utf8.RuneCountInString(prompt) / 4
	if n < 1 {
		return 1
	}
	return n
}
