package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Songmu/flextime"
)

var (
	ErrCurrencyRequired    = errors.New("both from_currency and to_currency are required")
	ErrInvalidCurrencyCode = errors.New("currency codes must be 3 characters long (e.g., USD, EUR)")
	ErrInvalidAmount       = errors.New("amount must be a non-negative number")
	ErrRateNotFound        = errors.New("exchange rate not found")
	ErrLookupFailed        = errors.New("exchange rate lookup failed")
)

// TimestampFormat is ISO-8601 with millisecond precision in UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Provider returns the latest rates of currencies expressed per one unit of base.
type Provider interface {
	Latest(ctx context.Context, base string, currencies ...string) (map[string]float64, error)
}

type ProviderFunc func(ctx context.Context, base string, currencies ...string) (map[string]float64, error)

func (f ProviderFunc) Latest(ctx context.Context, base string, currencies ...string) (map[string]float64, error) {
	return f(ctx, base, currencies...)
}

type Quote struct {
	FromCurrency    string  `json:"from_currency"`
	ToCurrency      string  `json:"to_currency"`
	Amount          float64 `json:"amount"`
	ExchangeRate    float64 `json:"exchange_rate"`
	ConvertedAmount float64 `json:"converted_amount"`
	Timestamp       string  `json:"timestamp"`
}

type Service struct {
	provider Provider
}

func NewService(p Provider) *Service {
	return &Service{provider: p}
}

func NormalizeCurrencies(from, to string) (string, string, error) {
	if from == "" || to == "" {
		return "", "", ErrCurrencyRequired
	}
	if utf8.RuneCountInString(from) != 3 || utf8.RuneCountInString(to) != 3 {
		return "", "", ErrInvalidCurrencyCode
	}
	return strings.ToUpper(from), strings.ToUpper(to), nil
}

// Convert looks up the latest from→to rate and applies it to amount.
// Every call reaches the provider exactly once.
func (s *Service) Convert(ctx context.Context, from, to string, amount float64) (*Quote, error) {
	from, to, err := NormalizeCurrencies(from, to)
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	rates, err := s.provider.Latest(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	rate, ok := rates[to]
	if !ok || rate <= 0 {
		return nil, fmt.Errorf("%w for %s to %s", ErrRateNotFound, from, to)
	}
	return &Quote{
		FromCurrency:    from,
		ToCurrency:      to,
		Amount:          amount,
		ExchangeRate:    rate,
		ConvertedAmount: amount * rate,
		Timestamp:       flextime.Now().UTC().Format(TimestampFormat),
	}, nil
}
