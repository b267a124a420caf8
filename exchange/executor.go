package exchange

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"

	"github.com/mashiike/fxchat"
	"github.com/mashiike/fxchat/jsonutil"
	"github.com/mashiike/fxchat/rate"
	"github.com/xeipuuv/gojsonschema"
)

type Converter interface {
	Convert(ctx context.Context, from, to string, amount float64) (*rate.Quote, error)
}

// Executor runs the registered tools in-process. Tool failures never escape as
// Go errors; they are reported as error results so the model can react.
type Executor struct {
	converter Converter
	tools     []fxchat.ToolDescriptor
}

var _ fxchat.ToolExecutor = (*Executor)(nil)

func NewExecutor(converter Converter) *Executor {
	return &Executor{
		converter: converter,
		tools:     Tools(),
	}
}

func (e *Executor) ListTools(_ context.Context) ([]fxchat.ToolDescriptor, error) {
	return Tools(), nil
}

func (e *Executor) CallTool(ctx context.Context, req fxchat.ToolCallRequest) (*fxchat.ToolCallResult, error) {
	desc, ok := fxchat.FindTool(e.tools, req.Name)
	if !ok {
		slog.WarnContext(ctx, "unknown tool", "name", req.Name)
		return fxchat.NewToolErrorResult("Unknown tool: %s", req.Name), nil
	}
	if err := validateArguments(desc.InputSchema, req.Arguments); err != nil {
		return fxchat.NewToolErrorResult("Invalid arguments for %s: %s", req.Name, err), nil
	}
	switch req.Name {
	case ToolName:
		return e.getExchangeRate(ctx, req.Arguments), nil
	default:
		return fxchat.NewToolErrorResult("Unknown tool: %s", req.Name), nil
	}
}

func (e *Executor) getExchangeRate(ctx context.Context, args map[string]any) *fxchat.ToolCallResult {
	var input ExchangeRateInput
	if err := jsonutil.Remarshal(args, &input); err != nil {
		return fxchat.NewToolErrorResult("Error getting exchange rate: %s", err)
	}
	amount := DefaultAmount
	if input.Amount != nil {
		amount = *input.Amount
	}
	quote, err := e.converter.Convert(ctx, input.FromCurrency, input.ToCurrency, amount)
	if err != nil {
		slog.InfoContext(ctx, "exchange rate lookup failed", "from", input.FromCurrency, "to", input.ToCurrency, "details", err)
		return fxchat.NewToolErrorResult("Error getting exchange rate: %s", err)
	}
	text, err := jsonutil.MarshalIndentString(quote)
	if err != nil {
		return fxchat.NewToolErrorResult("Error getting exchange rate: %s", err)
	}
	return fxchat.NewToolTextResult(text)
}

// validateArguments checks argument types only; missing fields are left to the tool itself.
func validateArguments(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	s := maps.Clone(schema)
	delete(s, "required")
	delete(s, "additionalProperties")
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(s), gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
