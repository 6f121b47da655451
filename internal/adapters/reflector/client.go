package reflector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Reflector oracle contract IDs per network. Each oracle class is a
// separate contract: external CEX prices, Stellar DEX prices, forex rates.
const (
	TestnetExternalOracle = "CCYOZJCOPG34LLQQ7N24YXBM7LL62R7ONMZ3G6WZAAYPB5OYKOMJRN63"
	TestnetStellarOracle  = "CAVLP5DH2GJPZMVO7IJY4CVOD5MWEFTJFVPD2YY2FQXOQHRGHK4D6HLP"
	TestnetForexOracle    = "CCSSOHTBL3LEWUCBBEB5NJFC2OKFRC74OWEIJIZLRJBGAAU4VMU5NV4W"

	MainnetExternalOracle = "CA2V4IXNCEKV6XQJR42FA25KXUMFQMBJLW3ZKRVU4FXCJUPUMDZMDM5S"
	MainnetStellarOracle  = "CBMS4EXBYPTVGBH6CB5QM4I5OY4P2QQ6L7HGFPFBRLNV5P7524L4G66I"
	MainnetForexOracle    = "CAHBESFLDZEUK5FMJOUSFRKPJJKXWKTLYF4HRLC7VGJJRMGD2X6V3EK5"
)

// Client implements ports.OracleSource against a Reflector oracle contract
// through its HTTP gateway. Raw prices arrive as 14-decimal fixed-point
// integers and are converted to exact decimals at the boundary.
type Client struct {
	baseURL    string
	contractID string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration for one oracle contract's gateway.
type Config struct {
	BaseURL    string // gateway root, e.g. https://api.reflector.network
	ContractID string // oracle contract this client reads
	Logger     ports.Logger
	Timeout    time.Duration // per-request, defaults to 10s
}

// New creates a Reflector gateway client for one oracle contract.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Reflector client")
	}
	if cfg.BaseURL == "" || cfg.ContractID == "" {
		return nil, fmt.Errorf("%w: reflector base URL and contract ID are required", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		contractID: cfg.ContractID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	op := "get"
	u := fmt.Sprintf("%s/contracts/%s/%s?%s", c.baseURL, c.contractID, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: build request: %v", ports.ErrUnknown, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", ports.ErrTimeout, path, c.contractID, err)
		}
		return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", ports.ErrOracleUnavailable, path, c.contractID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read response: %v", ports.ErrOracleUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", ports.ErrNotFound, path, query.Encode())
	case resp.StatusCode == http.StatusTooManyRequests:
		return gjson.Result{}, fmt.Errorf("%w: reflector gateway", ports.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn(ctx, "Reflector gateway error", map[string]interface{}{
			"op": op, "path": path, "status": resp.StatusCode,
		})
		return gjson.Result{}, fmt.Errorf("%w: gateway status %d", ports.ErrOracleUnavailable, resp.StatusCode)
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON from gateway", ports.ErrOracleUnavailable)
	}
	return gjson.ParseBytes(body), nil
}

// parseQuote converts one {"price": "<raw 14dp int>", "timestamp": <unix>}
// object. A missing or malformed raw price is a data error, not an outage.
func parseQuote(res gjson.Result) (*ports.PriceQuote, error) {
	rawPrice := res.Get("price")
	if !rawPrice.Exists() {
		return nil, fmt.Errorf("%w: no price in oracle response", ports.ErrNotFound)
	}
	raw, ok := new(big.Int).SetString(rawPrice.String(), 10)
	if !ok {
		return nil, fmt.Errorf("%w: unparseable raw price %q", ports.ErrUnknown, rawPrice.String())
	}
	observedAt := time.Now()
	if ts := res.Get("timestamp"); ts.Exists() {
		observedAt = time.Unix(ts.Int(), 0)
	}
	return &ports.PriceQuote{
		Price:      domain.PriceFromOracleRaw(raw),
		ObservedAt: observedAt,
	}, nil
}

// SpotPrice reads the contract's lastprice for the asset.
func (c *Client) SpotPrice(ctx context.Context, asset string) (*ports.PriceQuote, error) {
	res, err := c.get(ctx, "lastprice", url.Values{"asset": {asset}})
	if err != nil {
		return nil, err
	}
	return parseQuote(res)
}

// TWAP reads the contract's time-weighted average over the given periods.
func (c *Client) TWAP(ctx context.Context, asset string, periods uint32) (*ports.PriceQuote, error) {
	res, err := c.get(ctx, "twap", url.Values{
		"asset":   {asset},
		"periods": {fmt.Sprintf("%d", periods)},
	})
	if err != nil {
		return nil, err
	}
	return parseQuote(res)
}

// CrossPrice reads the contract's x_last_price for the pair. Reflector only
// serves crosses between assets it tracks itself; anything else surfaces as
// ErrCrossUnavailable so the aggregator can triangulate.
func (c *Client) CrossPrice(ctx context.Context, base, quote string) (*ports.PriceQuote, error) {
	res, err := c.get(ctx, "x_last_price", url.Values{"base": {base}, "quote": {quote}})
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ports.ErrCrossUnavailable, base, quote)
		}
		return nil, err
	}
	return parseQuote(res)
}

// RecentPrices reads the contract's recent price records, oldest first.
func (c *Client) RecentPrices(ctx context.Context, asset string, periods uint32) ([]decimal.Decimal, error) {
	res, err := c.get(ctx, "prices", url.Values{
		"asset":   {asset},
		"records": {fmt.Sprintf("%d", periods)},
	})
	if err != nil {
		return nil, err
	}
	records := res.Get("prices")
	if !records.IsArray() {
		return nil, fmt.Errorf("%w: no price records for %s", ports.ErrNotFound, asset)
	}
	var out []decimal.Decimal
	var parseErr error
	records.ForEach(func(_, rec gjson.Result) bool {
		q, err := parseQuote(rec)
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, q.Price)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty price history for %s", ports.ErrNotFound, asset)
	}
	return out, nil
}
