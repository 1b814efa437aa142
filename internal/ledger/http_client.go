package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bizledger/domain"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrMissingCredentials is returned by Login when no email or password is set.
var ErrMissingCredentials = errors.New("ledger email and password are required")

type ClientConfig struct {
	BaseURL  string
	Email    string
	Password string
	Token    string
	Timeout  time.Duration
}

// HTTPClient reaches the ledger API. Every write it sends is keyed (sale
// local id, debt related sale id, payment id) so resty's retries are safe.
type HTTPClient struct {
	mu       sync.Mutex
	http     *resty.Client
	email    string
	password string
	logger   zerolog.Logger
}

var _ Remote = (*HTTPClient)(nil)

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	ID    string `json:"id,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type saleItemsRequest struct {
	Items []domain.SaleItem `json:"items"`
}

func NewHTTPClient(cfg ClientConfig, logger zerolog.Logger) *HTTPClient {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && (resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError)
		})

	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &HTTPClient{
		http:     httpClient,
		email:    strings.TrimSpace(cfg.Email),
		password: cfg.Password,
		logger:   logger.With().Str("component", "ledger-client").Logger(),
	}
}

// Login exchanges the configured credentials for a bearer token and keeps it
// for later calls.
func (c *HTTPClient) Login(ctx context.Context) (domain.User, error) {
	if c.email == "" || c.password == "" {
		return domain.User{}, ErrMissingCredentials
	}
	var out loginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", loginRequest{Email: c.email, Password: c.password}, &out); err != nil {
		return domain.User{}, err
	}
	c.http.SetAuthToken(out.Token)
	c.logger.Debug().Str("user_id", out.User.ID).Str("business_id", out.User.BusinessID).Msg("logged in to ledger")
	return out.User, nil
}

func (c *HTTPClient) hasToken() bool {
	return strings.TrimSpace(c.http.Token) != ""
}

// ensureToken logs in lazily so a client built while offline can still be
// used once the ledger becomes reachable.
func (c *HTTPClient) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasToken() {
		return nil
	}
	_, err := c.Login(ctx)
	return err
}

// Health reports whether the ledger answers its health check.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, nil)
}

func (c *HTTPClient) InsertSale(ctx context.Context, header domain.SaleHeader) (string, error) {
	var out idResponse
	err := c.authed(ctx, "insert sale", http.MethodPost, "/sales", header, &out)
	if err != nil {
		return duplicateID(err), err
	}
	return out.ID, nil
}

func (c *HTTPClient) InsertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	path := fmt.Sprintf("/sales/%s/items", url.PathEscape(saleID))
	return c.authed(ctx, "insert sale items", http.MethodPost, path, saleItemsRequest{Items: items}, nil)
}

func (c *HTTPClient) InsertDebt(ctx context.Context, debt domain.Debt) (string, error) {
	var out idResponse
	err := c.authed(ctx, "insert debt", http.MethodPost, "/debts", debt, &out)
	if err != nil {
		return duplicateID(err), err
	}
	return out.ID, nil
}

func (c *HTTPClient) GetDebt(ctx context.Context, debtID string) (domain.Debt, error) {
	var out domain.Debt
	path := fmt.Sprintf("/debts/%s", url.PathEscape(debtID))
	if err := c.authed(ctx, "get debt", http.MethodGet, path, nil, &out); err != nil {
		return domain.Debt{}, err
	}
	return out, nil
}

// ListDebts lists the debts of the business bound to the client's token.
func (c *HTTPClient) ListDebts(ctx context.Context, businessID string, status domain.DebtStatus) ([]domain.Debt, error) {
	path := "/debts"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []domain.Debt
	if err := c.authed(ctx, "list debts", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if businessID == "" {
		return out, nil
	}
	filtered := out[:0]
	for _, d := range out {
		if d.BusinessID == businessID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (c *HTTPClient) ApplyDebtPayment(ctx context.Context, w PaymentWrite) (domain.Debt, error) {
	var out domain.Debt
	path := fmt.Sprintf("/debts/%s/payments", url.PathEscape(w.DebtID))
	if err := c.authed(ctx, "apply debt payment", http.MethodPost, path, w, &out); err != nil {
		return domain.Debt{}, err
	}
	return out, nil
}

func (c *HTTPClient) ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error) {
	var out []domain.DebtPayment
	path := fmt.Sprintf("/debts/%s/payments", url.PathEscape(debtID))
	if err := c.authed(ctx, "list debt payments", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) authed(ctx context.Context, op, method, path string, body, result any) error {
	if err := c.ensureToken(ctx); err != nil {
		return wrap(op, err)
	}
	err := c.do(ctx, op, method, path, body, result)
	if errors.Is(err, ErrUnauthorized) && c.email != "" {
		// Token expired: log in again and retry once.
		c.mu.Lock()
		c.http.SetAuthToken("")
		c.mu.Unlock()
		if loginErr := c.ensureToken(ctx); loginErr != nil {
			return wrap(op, loginErr)
		}
		err = c.do(ctx, op, method, path, body, result)
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	if resp.IsError() {
		return errorFromResponse(op, resp)
	}
	return nil
}

// duplicatedError carries the id the ledger already holds for a replayed
// insert.
type duplicatedError struct {
	id  string
	err error
}

func (e *duplicatedError) Error() string { return e.err.Error() }
func (e *duplicatedError) Unwrap() error { return e.err }

func duplicateID(err error) string {
	var dup *duplicatedError
	if errors.As(err, &dup) {
		return dup.id
	}
	return ""
}

func errorFromResponse(op string, resp *resty.Response) error {
	var body apiError
	raw := strings.TrimSpace(resp.String())
	_ = json.Unmarshal(resp.Body(), &body)

	var cause error
	if sentinel, ok := ErrorForCode(body.Code); ok {
		cause = fmt.Errorf("%w: %s", sentinel, body.Error)
		if body.ID != "" {
			cause = &duplicatedError{id: body.ID, err: cause}
		}
	} else {
		switch resp.StatusCode() {
		case http.StatusUnauthorized:
			cause = fmt.Errorf("%w: %s", ErrUnauthorized, raw)
		case http.StatusForbidden:
			cause = fmt.Errorf("%w: %s", ErrForbidden, raw)
		default:
			cause = fmt.Errorf("%s: %s", resp.Status(), raw)
		}
	}
	return &RemoteError{Op: op, StatusCode: resp.StatusCode(), Err: cause}
}
