package exchange

import (
	"fmt"
	"slices"
	"sync"

	"github.com/mashiike/fxchat"
)

const (
	ToolName        = "get_exchange_rate"
	ToolDescription = "Get exchange rate between currencies and calculate conversions. Supports all major currencies like USD, EUR, GBP, JPY, etc."
	DefaultAmount   = 1.0
)

type ExchangeRateInput struct {
	FromCurrency string   `json:"from_currency" jsonschema_description:"Source currency code (e.g., USD, EUR, GBP)"`
	ToCurrency   string   `json:"to_currency" jsonschema_description:"Target currency code (e.g., USD, EUR, GBP)"`
	Amount       *float64 `json:"amount,omitempty" jsonschema:"default=1,minimum=0" jsonschema_description:"Amount to convert (optional, defaults to 1)"`
}

var registry = sync.OnceValue(func() []fxchat.ToolDescriptor {
	schema, err := fxchat.GenerateInputSchema[ExchangeRateInput]()
	if err != nil {
		panic(fmt.Sprintf("failed to generate `%s` input schema: %v", ToolName, err))
	}
	return []fxchat.ToolDescriptor{
		{
			Name:        ToolName,
			Description: ToolDescription,
			InputSchema: schema,
		},
	}
})

// Tools returns the fixed list of tools this package can execute.
func Tools() []fxchat.ToolDescriptor {
	return slices.Clone(registry())
}
