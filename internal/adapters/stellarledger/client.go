package stellarledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Client implements ports.LedgerClient against the guard contract's HTTP
// API. The ledger is authoritative: every status read here reflects chain
// state, and submissions are idempotent on the supplied key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     ports.Logger

	pollDelay time.Duration

	// Discovery cursor, advanced on every successful changes poll.
	cursorMu sync.Mutex
	cursor   string
}

// Config holds configuration for the ledger API client.
type Config struct {
	BaseURL   string
	Logger    ports.Logger
	Timeout   time.Duration // per-request, defaults to 15s
	PollDelay time.Duration // confirmation poll interval, defaults to 2s
}

// New creates a ledger API client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: ledger API base URL is required", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pollDelay := cfg.PollDelay
	if pollDelay <= 0 {
		pollDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
		pollDelay:  pollDelay,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: build request: %v", ports.ErrUnknown, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", ports.ErrTimeout, method, path, err)
		}
		return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", ports.ErrTransientSubmission, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read response: %v", ports.ErrTransientSubmission, err)
	}
	res := gjson.ParseBytes(raw)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, fmt.Errorf("%w: %s", ports.ErrNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return gjson.Result{}, fmt.Errorf("%w: ledger API", ports.ErrRateLimited)
	case resp.StatusCode == http.StatusConflict:
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", ports.ErrInvalidOrderState, path, res.Get("detail").String())
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", ports.ErrPermanentSubmission, path, res.Get("detail").String())
	case resp.StatusCode >= 500:
		return gjson.Result{}, fmt.Errorf("%w: ledger API status %d", ports.ErrTransientSubmission, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted:
		return gjson.Result{}, fmt.Errorf("%w: ledger API status %d: %s", ports.ErrUnknown, resp.StatusCode, res.Get("detail").String())
	}
	return res, nil
}

// GetOrderStatus reads the authoritative order status.
func (c *Client) GetOrderStatus(ctx context.Context, orderID uint64) (domain.OrderStatus, error) {
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil)
	if err != nil {
		return "", err
	}
	return domain.OrderStatus(res.Get("status").String()), nil
}

// SubmitExecution submits a check-and-execute transaction for the order.
// The contract re-verifies the trigger condition on-chain; the idempotency
// key makes resubmission of the same decision a no-op.
func (c *Client) SubmitExecution(ctx context.Context, orderID uint64, idempotencyKey string) (*ports.SubmissionHandle, error) {
	body := []byte(fmt.Sprintf(`{"idempotency_key":%q}`, idempotencyKey))
	res, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/execute", orderID), body)
	if err != nil {
		return nil, err
	}
	return parseHandle(res)
}

// GetLoanStatus reads the authoritative loan status.
func (c *Client) GetLoanStatus(ctx context.Context, loanID uint64) (domain.LoanStatus, error) {
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/loans/%d", loanID), nil)
	if err != nil {
		return "", err
	}
	return domain.LoanStatus(res.Get("status").String()), nil
}

// FlagLiquidation submits a liquidation flag for the loan. The contract
// recomputes the collateral ratio on-chain before accepting.
func (c *Client) FlagLiquidation(ctx context.Context, loanID uint64, idempotencyKey string) (*ports.SubmissionHandle, error) {
	body := []byte(fmt.Sprintf(`{"idempotency_key":%q}`, idempotencyKey))
	res, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/loans/%d/liquidate", loanID), body)
	if err != nil {
		return nil, err
	}
	return parseHandle(res)
}

func parseHandle(res gjson.Result) (*ports.SubmissionHandle, error) {
	id := res.Get("submission_id").String()
	if id == "" {
		return nil, fmt.Errorf("%w: no submission ID in response", ports.ErrUnknown)
	}
	return &ports.SubmissionHandle{ID: id, SubmittedAt: time.Now()}, nil
}

// AwaitConfirmation polls the submission until it resolves or ctx expires.
func (c *Client) AwaitConfirmation(ctx context.Context, handle *ports.SubmissionHandle) error {
	op := "AwaitConfirmation"
	for {
		res, err := c.do(ctx, http.MethodGet, "/submissions/"+handle.ID, nil)
		if err != nil {
			return err
		}
		switch state := res.Get("state").String(); state {
		case "confirmed":
			return nil
		case "failed":
			detail := res.Get("detail").String()
			if res.Get("error_class").String() == "permanent" {
				return fmt.Errorf("%w: submission %s: %s", ports.ErrPermanentSubmission, handle.ID, detail)
			}
			return fmt.Errorf("%w: submission %s: %s", ports.ErrTransientSubmission, handle.ID, detail)
		case "pending":
			// keep polling
		default:
			c.logger.Warn(ctx, "unknown submission state", map[string]interface{}{
				"op": op, "submissionID": handle.ID, "state": state,
			})
		}
		select {
		case <-time.After(c.pollDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PollDiscoveredPositions fetches position changes since the stored cursor.
// The first call (empty cursor) returns the full active book.
func (c *Client) PollDiscoveredPositions(ctx context.Context) (*ports.PositionDelta, error) {
	c.cursorMu.Lock()
	cursor := c.cursor
	c.cursorMu.Unlock()

	res, err := c.do(ctx, http.MethodGet, "/positions/changes?cursor="+cursor, nil)
	if err != nil {
		return nil, err
	}

	delta := &ports.PositionDelta{}
	res.Get("new_orders").ForEach(func(_, o gjson.Result) bool {
		delta.NewOrders = append(delta.NewOrders, parseOrder(o))
		return true
	})
	res.Get("removed_orders").ForEach(func(_, id gjson.Result) bool {
		delta.RemovedOrders = append(delta.RemovedOrders, id.Uint())
		return true
	})
	res.Get("new_loans").ForEach(func(_, l gjson.Result) bool {
		delta.NewLoans = append(delta.NewLoans, parseLoan(l))
		return true
	})
	res.Get("removed_loans").ForEach(func(_, id gjson.Result) bool {
		delta.RemovedLoans = append(delta.RemovedLoans, id.Uint())
		return true
	})

	if next := res.Get("cursor").String(); next != "" {
		c.cursorMu.Lock()
		c.cursor = next
		c.cursorMu.Unlock()
	}
	return delta, nil
}

// parseOrder maps one order object from the changes feed. Amounts and
// prices arrive as raw 7-decimal ledger integers.
func parseOrder(o gjson.Result) *domain.Order {
	order := &domain.Order{
		ID:           o.Get("id").Uint(),
		Owner:        o.Get("owner").String(),
		Asset:        o.Get("asset").String(),
		Class:        domain.OracleClass(o.Get("class").String()),
		Amount:       domain.PriceFromOrderRaw(o.Get("amount").Int()),
		Kind:         domain.OrderKind(o.Get("kind").String()),
		Side:         domain.OrderSide(o.Get("side").String()),
		Status:       domain.OrderStatus(o.Get("status").String()),
		CreatedAt:    time.Unix(o.Get("created_at").Int(), 0),
		TriggerPrice: domain.PriceFromOrderRaw(o.Get("trigger_price").Int()),
		TrailBps:     uint32(o.Get("trail_bps").Uint()),
		StopPrice:    domain.PriceFromOrderRaw(o.Get("stop_price").Int()),
		LimitPrice:   domain.PriceFromOrderRaw(o.Get("limit_price").Int()),
		CancelledLeg: domain.OCOLeg(o.Get("cancelled_leg").String()),
		UseTWAP:      o.Get("use_twap").Bool(),
		TwapPeriods:  uint32(o.Get("twap_periods").Uint()),
		TriggerAsset: o.Get("trigger_asset").String(),
		TriggerClass: domain.OracleClass(o.Get("trigger_class").String()),
	}
	if order.Kind == domain.KindTrailingStop {
		order.Trailing = &domain.TrailingState{}
	}
	return order
}

func parseLoan(l gjson.Result) *domain.LoanPosition {
	return &domain.LoanPosition{
		ID:                      l.Get("id").Uint(),
		Borrower:                l.Get("borrower").String(),
		CollateralAsset:         l.Get("collateral_asset").String(),
		CollateralClass:         domain.OracleClass(l.Get("collateral_class").String()),
		CollateralAmount:        domain.PriceFromOrderRaw(l.Get("collateral_amount").Int()),
		BorrowedAsset:           l.Get("borrowed_asset").String(),
		BorrowedClass:           domain.OracleClass(l.Get("borrowed_class").String()),
		BorrowedAmount:          domain.PriceFromOrderRaw(l.Get("borrowed_amount").Int()),
		LiquidationThresholdBps: uint32(l.Get("liquidation_threshold_bps").Uint()),
		Status:                  domain.LoanStatus(l.Get("status").String()),
		CreatedAt:               time.Unix(l.Get("created_at").Int(), 0),
	}
}
