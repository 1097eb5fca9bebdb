// Package paytr adapts the PayTR payment provider. Requests are signed with
// an HMAC-SHA256 token over a canonical field concatenation; callbacks are
// authenticated with the same construction before they may reach the saga.
package paytr

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/ecomflow/payment-platform/internal/payment/application"
)

type Config struct {
	MerchantID     string
	MerchantKey    string
	MerchantSalt   string
	BaseURL        string
	OKURL          string
	FailURL        string
	TestMode       bool
	MaxInstallment int
	TimeoutSeconds int
	Lang           string
}

type Client struct {
	log     *slog.Logger
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retries uint64
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.paytr.com"
	}
	if cfg.MaxInstallment == 0 {
		cfg.MaxInstallment = 1
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.Lang == "" {
		cfg.Lang = "tr"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "paytr",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("gateway circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		log:     log,
		cfg:     cfg,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		breaker: breaker,
		retries: 3,
	}
}

func (c *Client) Name() string { return "paytr" }

func (c *Client) PaymentPageURL(token string) string {
	return c.cfg.BaseURL + "/odeme/guvenli/" + token
}

type initWire struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

func (c *Client) InitPayment(ctx context.Context, req application.InitRequest) (application.InitResult, error) {
	basket, err := encodeBasket(req.Basket)
	if err != nil {
		return application.InitResult{}, err
	}

	amount := strconv.FormatInt(req.Amount, 10)
	currency := mapCurrency(req.Currency)
	noInstallment := "0"
	testMode := boolFlag(c.cfg.TestMode)

	token := c.sign(c.cfg.MerchantID, req.UserIP, req.MerchantOID, req.UserEmail,
		amount, basket, noInstallment, strconv.Itoa(c.cfg.MaxInstallment), currency, testMode)

	form := url.Values{
		"merchant_id":       {c.cfg.MerchantID},
		"user_ip":           {req.UserIP},
		"merchant_oid":      {req.MerchantOID},
		"email":             {req.UserEmail},
		"payment_amount":    {amount},
		"paytr_token":       {token},
		"user_basket":       {basket},
		"debug_on":          {testMode},
		"no_installment":    {noInstallment},
		"max_installment":   {strconv.Itoa(c.cfg.MaxInstallment)},
		"user_name":         {req.UserName},
		"user_address":      {req.UserAddress},
		"user_phone":        {req.UserPhone},
		"merchant_ok_url":   {c.cfg.OKURL},
		"merchant_fail_url": {c.cfg.FailURL},
		"timeout_limit":     {strconv.Itoa(c.cfg.TimeoutSeconds)},
		"currency":          {currency},
		"test_mode":         {testMode},
		"lang":              {c.cfg.Lang},
	}

	body, err := c.postForm(ctx, "/odeme/api/get-token", form)
	if err != nil {
		return application.InitResult{}, fmt.Errorf("paytr init: %w", err)
	}

	var wire initWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return application.InitResult{}, fmt.Errorf("paytr init: decode response: %w", err)
	}

	if wire.Status == "success" && wire.Token != "" {
		return application.InitResult{Success: true, Token: wire.Token, Raw: body}, nil
	}
	reason := wire.Reason
	if reason == "" {
		reason = "unknown error from paytr"
	}
	return application.InitResult{Error: reason, Raw: body}, nil
}

type refundWire struct {
	Status   string `json:"status"`
	RefundID string `json:"refund_id"`
	ErrMsg   string `json:"err_msg"`
}

func (c *Client) Refund(ctx context.Context, req application.RefundRequest) (application.RefundResult, error) {
	amount := strconv.FormatInt(req.Amount, 10)
	token := c.sign(c.cfg.MerchantID, req.MerchantOID, amount)

	form := url.Values{
		"merchant_id":   {c.cfg.MerchantID},
		"merchant_oid":  {req.MerchantOID},
		"return_amount": {amount},
		"paytr_token":   {token},
	}
	if req.ReferenceNo != "" {
		form.Set("reference_no", req.ReferenceNo)
	}

	body, err := c.postForm(ctx, "/odeme/iade", form)
	if err != nil {
		return application.RefundResult{}, fmt.Errorf("paytr refund: %w", err)
	}

	var wire refundWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return application.RefundResult{}, fmt.Errorf("paytr refund: decode response: %w", err)
	}

	if wire.Status == "success" {
		return application.RefundResult{Success: true, RefundID: wire.RefundID, Raw: body}, nil
	}
	errMsg := wire.ErrMsg
	if errMsg == "" {
		errMsg = "unknown error from paytr"
	}
	return application.RefundResult{Error: errMsg, Raw: body}, nil
}

// VerifyCallback recomputes the callback token and compares it in constant
// time. An invalid hash means the request did not come from the provider.
func (c *Client) VerifyCallback(cb application.Callback) bool {
	expected := c.CallbackHash(cb)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(cb.Hash)) == 1
}

// CallbackHash builds the provider's callback token:
// base64(hmac_sha256(merchant_key, merchant_oid || merchant_salt || status || total_amount)).
func (c *Client) CallbackHash(cb application.Callback) string {
	return c.sign2(cb.MerchantOID + c.cfg.MerchantSalt + cb.Status + cb.TotalAmount)
}

// sign appends the merchant salt to the concatenated fields and signs with
// the merchant key.
func (c *Client) sign(fields ...string) string {
	return c.sign2(strings.Join(fields, "") + c.cfg.MerchantSalt)
}

func (c *Client) sign2(input string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.MerchantKey))
	mac.Write([]byte(input))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// postForm submits a form through the circuit breaker with exponential
// backoff. Only transport-level failures count against the breaker; a
// well-formed provider rejection is a normal response.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	var body []byte

	op := func() error {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, path, form)
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		body = res.([]byte)
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// encodeBasket formats items the way PayTR expects: base64 of a JSON array
// of [name, price_in_minor_units, quantity] triples.
func encodeBasket(items []application.BasketItem) (string, error) {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{it.Name, strconv.FormatInt(it.Price, 10), it.Quantity})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func mapCurrency(currency string) string {
	switch strings.ToUpper(currency) {
	case "TRY", "TL", "":
		return "TL"
	case "USD", "EUR", "GBP":
		return strings.ToUpper(currency)
	default:
		return "TL"
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
