// Package ledger is the typed boundary to the family ledger REST API.
//
// Every call returns the raw (status, body) pair as a *Response. Ledger-level
// rejections are data; only transport failures come back as errors, and those
// always wrap ErrUnavailable.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultTimeout = 12 * time.Second
	maxBodyBytes   = 1 << 20
	userAgent      = "familybot/1.0"
)

type Options struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient is optional; its own Timeout is ignored in favour of Timeout.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: timeout,
		http:    hc,
	}
}

// ─── Members ────────────────────────────────────────────────────────────────

func (c *Client) GetMember(ctx context.Context, caller Caller, id MemberID) (*Response, error) {
	return c.do(ctx, caller, "get_member", http.MethodGet, "/members/"+url.PathEscape(id.String()), nil)
}

func (c *Client) GetMemberByTelegramID(ctx context.Context, caller Caller, telegramID string) (*Response, error) {
	return c.do(ctx, caller, "get_member_by_telegram", http.MethodGet, "/members/telegram/"+url.PathEscape(telegramID), nil)
}

func (c *Client) CreateMember(ctx context.Context, caller Caller, m NewMember) (*Response, error) {
	return c.do(ctx, caller, "create_member", http.MethodPost, "/members", m)
}

// ─── Families ───────────────────────────────────────────────────────────────

func (c *Client) GetFamily(ctx context.Context, caller Caller, id ID) (*Response, error) {
	return c.do(ctx, caller, "get_family", http.MethodGet, "/families/"+url.PathEscape(id.String()), nil)
}

func (c *Client) CreateFamily(ctx context.Context, caller Caller, f NewFamily) (*Response, error) {
	return c.do(ctx, caller, "create_family", http.MethodPost, "/families", f)
}

func (c *Client) JoinFamily(ctx context.Context, caller Caller, id ID, m NewMember) (*Response, error) {
	return c.do(ctx, caller, "join_family", http.MethodPost, "/families/"+url.PathEscape(id.String())+"/members", m)
}

func (c *Client) GetFamilyBalances(ctx context.Context, caller Caller, id ID) (*Response, error) {
	return c.do(ctx, caller, "get_family_balances", http.MethodGet, "/families/"+url.PathEscape(id.String())+"/balances", nil)
}

func (c *Client) GetFamilyExpenses(ctx context.Context, caller Caller, id ID) (*Response, error) {
	return c.do(ctx, caller, "get_family_expenses", http.MethodGet, "/families/"+url.PathEscape(id.String())+"/expenses", nil)
}

func (c *Client) GetFamilyPayments(ctx context.Context, caller Caller, id ID) (*Response, error) {
	return c.do(ctx, caller, "get_family_payments", http.MethodGet, "/families/"+url.PathEscape(id.String())+"/payments", nil)
}

// ─── Expenses ───────────────────────────────────────────────────────────────

func (c *Client) CreateExpense(ctx context.Context, caller Caller, e NewExpense) (*Response, error) {
	return c.do(ctx, caller, "create_expense", http.MethodPost, "/expenses", e)
}

func (c *Client) UpdateExpense(ctx context.Context, caller Caller, id ID, u ExpenseUpdate) (*Response, error) {
	return c.do(ctx, caller, "update_expense", http.MethodPut, "/expenses/"+url.PathEscape(id.String()), u)
}

func (c *Client) DeleteExpense(ctx context.Context, caller Caller, id ID) (*Response, error) {
	return c.do(ctx, caller, "delete_expense", http.MethodDelete, "/expenses/"+url.PathEscape(id.String()), nil)
}

// ─── Payments ───────────────────────────────────────────────────────────────

func (c *Client) GetPayment(ctx context.Context, caller Caller, id ID) (*Response, error) {
	return c.do(ctx, caller, "get_payment", http.MethodGet, "/payments/"+url.PathEscape(id.String()), nil)
}

func (c *Client) CreatePayment(ctx context.Context, caller Caller, p NewPayment) (*Response, error) {
	return c.do(ctx, caller, "create_payment", http.MethodPost, "/payments", p)
}

func (c *Client) UpdatePaymentStatus(ctx context.Context, caller Caller, id ID, status string) (*Response, error) {
	return c.do(ctx, caller, "update_payment_status", http.MethodPatch, "/payments/"+url.PathEscape(id.String())+"/status", StatusUpdate{Status: status})
}

func (c *Client) CreateDebtAdjustment(ctx context.Context, caller Caller, p NewPayment) (*Response, error) {
	return c.do(ctx, caller, "create_debt_adjustment", http.MethodPost, "/payments/debt-adjustment/", p)
}

// do performs one bounded request. op is a low-cardinality metrics label.
func (c *Client) do(ctx context.Context, caller Caller, op, method, path string, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("build ledger url: %w", err)
	}
	if caller != "" {
		q := u.Query()
		q.Set("telegram_id", string(caller))
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.LedgerRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%w: read %s %s: %w", ErrUnavailable, method, path, err)
	}
	metrics.LedgerRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
