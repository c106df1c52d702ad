package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trading-agentv1/internal/model"
)

const defaultTimeout = 7 * time.Second

// DEXConfig configures the DEX aggregator client.
type DEXConfig struct {
	Endpoint  string // base URL of the aggregator API
	AuthToken string // bearer token
	// MaxPriceImpact rejects quotes whose price impact exceeds this fraction
	// (e.g. 0.01 = 1%). 0 disables the guard.
	MaxPriceImpact float64
	Timeout        time.Duration
}

// DEXClient executes swaps through a DEX aggregator's REST API.
type DEXClient struct {
	cfg        DEXConfig
	httpClient *http.Client
}

var _ Client = (*DEXClient)(nil)

// NewDEXClient creates a DEXClient with the given config.
func NewDEXClient(cfg DEXConfig) *DEXClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &DEXClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetQuote fetches a quote from the aggregator and applies the price-impact
// guard.
func (c *DEXClient) GetQuote(ctx context.Context, inputToken, outputToken string,
	amount float64, side model.Side) (*Quote, error) {

	q := url.Values{}
	q.Set("inputToken", inputToken)
	q.Set("outputToken", outputToken)
	q.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	q.Set("side", string(side))

	var quote Quote
	if err := c.do(ctx, http.MethodGet, "/v1/quote?"+q.Encode(), nil, &quote); err != nil {
		return nil, fmt.Errorf("get quote %s-%s: %w", inputToken, outputToken, err)
	}
	quote.InputToken = inputToken
	quote.OutputToken = outputToken
	quote.Side = side
	quote.Amount = amount

	if c.cfg.MaxPriceImpact > 0 && quote.PriceImpact > c.cfg.MaxPriceImpact {
		return nil, fmt.Errorf("quote %s-%s: price impact %.4f exceeds limit %.4f",
			inputToken, outputToken, quote.PriceImpact, c.cfg.MaxPriceImpact)
	}
	return &quote, nil
}

// ExecuteSwap submits the quote for execution.
func (c *DEXClient) ExecuteSwap(ctx context.Context, quote *Quote) (*SwapResult, error) {
	var result SwapResult
	if err := c.do(ctx, http.MethodPost, "/v1/swap", quote, &result); err != nil {
		return nil, fmt.Errorf("execute swap %s-%s: %w", quote.InputToken, quote.OutputToken, err)
	}
	return &result, nil
}

func (c *DEXClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue returned %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return json.Unmarshal(data, out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
