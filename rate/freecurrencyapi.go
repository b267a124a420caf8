package rate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	DefaultFreeCurrencyAPIEndpoint = "https://api.freecurrencyapi.com"
	latestPath                     = "/v1/latest"
)

var ErrMissingAPIKey = errors.New("missing CURRENCY_API_KEY")

type FreeCurrencyAPIConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// FreeCurrencyAPI is a Provider backed by freecurrencyapi.com.
type FreeCurrencyAPI struct {
	apiKey   string
	endpoint *url.URL
	client   *http.Client
}

func NewFreeCurrencyAPI(cfg FreeCurrencyAPIConfig) (*FreeCurrencyAPI, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("CURRENCY_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultFreeCurrencyAPIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	return &FreeCurrencyAPI{
		apiKey:   cfg.APIKey,
		endpoint: u.JoinPath(latestPath),
		client:   cfg.HTTPClient,
	}, nil
}

func (p *FreeCurrencyAPI) Latest(ctx context.Context, base string, currencies ...string) (map[string]float64, error) {
	u := *p.endpoint
	q := u.Query()
	q.Set("base_currency", base)
	if len(currencies) > 0 {
		q.Set("currencies", strings.Join(currencies, ","))
	}
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Accept", "application/json")
	slog.DebugContext(ctx, "request latest rates", "base_currency", base, "currencies", currencies)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("freecurrencyapi: status %d: %s", resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("freecurrencyapi: invalid json response")
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		return nil, errors.New("freecurrencyapi: response has no data")
	}
	rates := make(map[string]float64)
	data.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			rates[strings.ToUpper(key.String())] = value.Float()
		}
		return true
	})
	return rates, nil
}
