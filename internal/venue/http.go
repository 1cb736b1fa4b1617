package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianfi/rlm/internal/logger"
)

var venueLogger = logger.GetForComponent("venue_client")

var ErrVenueRejected = errors.New("venue rejected request")

const (
	TIMEOUT_SECONDS = 30
)

// HTTPClient talks to the lending venue's REST API. Amounts cross the wire as
// decimal strings to avoid JSON number precision loss.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a venue client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}
}

type depositRequest struct {
	Denom       string `json:"denom"`
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
}

type depositResponse struct {
	Receipt string `json:"receipt"`
	Error   string `json:"error,omitempty"`
}

type withdrawRequest struct {
	Denom       string `json:"denom"`
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

type withdrawResponse struct {
	ActualAmount string `json:"actual_amount"`
	Error        string `json:"error,omitempty"`
}

type balanceResponse struct {
	Denom   string `json:"denom"`
	Balance string `json:"balance"`
	Error   string `json:"error,omitempty"`
}

func (c *HTTPClient) Deposit(ctx context.Context, denom string, amount sdkmath.Int, beneficiary string) (string, error) {
	var resp depositResponse
	err := c.post(ctx, "/v1/deposits", depositRequest{
		Denom:       denom,
		Amount:      amount.String(),
		Beneficiary: beneficiary,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrVenueRejected, resp.Error)
	}

	venueLogger.Debug().
		Str("denom", denom).
		Str("amount", amount.String()).
		Str("receipt", resp.Receipt).
		Msg("Venue deposit confirmed")
	return resp.Receipt, nil
}

func (c *HTTPClient) Withdraw(ctx context.Context, denom string, amount sdkmath.Int, destination string) (sdkmath.Int, error) {
	var resp withdrawResponse
	err := c.post(ctx, "/v1/withdrawals", withdrawRequest{
		Denom:       denom,
		Amount:      amount.String(),
		Destination: destination,
	}, &resp)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if resp.Error != "" {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrVenueRejected, resp.Error)
	}

	actual, ok := sdkmath.NewIntFromString(resp.ActualAmount)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid actual amount from venue: %q", resp.ActualAmount)
	}

	venueLogger.Debug().
		Str("denom", denom).
		Str("requested", amount.String()).
		Str("actual", actual.String()).
		Msg("Venue withdrawal confirmed")
	return actual, nil
}

func (c *HTTPClient) OutstandingBalance(ctx context.Context, denom, holder string) (sdkmath.Int, error) {
	endpoint := fmt.Sprintf("%s/v1/balances?denom=%s&holder=%s",
		c.baseURL, url.QueryEscape(denom), url.QueryEscape(holder))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to build balance request: %w", err)
	}

	var resp balanceResponse
	if err := c.do(req, &resp); err != nil {
		return sdkmath.Int{}, err
	}
	if resp.Error != "" {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrVenueRejected, resp.Error)
	}

	balance, ok := sdkmath.NewIntFromString(resp.Balance)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid balance from venue: %q", resp.Balance)
	}
	return balance, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal venue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build venue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("venue request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read venue response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrVenueRejected, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode venue response: %w", err)
	}
	return nil
}
