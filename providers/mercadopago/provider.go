package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hogarapp/finsync/core"
	"github.com/hogarapp/finsync/providers"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL       = "https://api.mercadopago.com"
	defaultWindow        = 30 * 24 * time.Hour
	defaultPageSize      = 50
	maxResponseBodyBytes = 4 << 20 // 4 MiB

	// MercadoPago's date_created filter format.
	dateLayout = "2006-01-02T15:04:05.000-07:00"
)

// Provider reads a MercadoPago account through its payments API: account
// identity from /users/me and movements from /v1/payments/search. It holds
// a bearer token for one connection and performs no persistence.
type Provider struct {
	baseURL    string
	token      string
	userID     string
	httpClient providers.HTTPDoer

	Now func() time.Time
}

type Option func(*Provider)

func WithHTTPClient(client providers.HTTPDoer) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			p.baseURL = strings.TrimSuffix(trimmed, "/")
		}
	}
}

func New(tokens core.TokenPair, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return nil, core.NewAuthorizationError("mercadopago: access token is required", nil)
	}
	provider := &Provider{
		baseURL: defaultBaseURL,
		token:   tokens.AccessToken,
		userID:  strings.TrimSpace(tokens.ProviderUserID),
		Now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.httpClient == nil {
		provider.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return provider, nil
}

// Factory adapts New to the registry contract.
func Factory(cfg core.ProviderConfig, opts ...Option) core.ProviderFactory {
	return func(_ context.Context, _ core.Connection, tokens core.TokenPair) (core.Provider, error) {
		all := opts
		if trimmed := strings.TrimSpace(cfg.APIBaseURL); trimmed != "" {
			all = append([]Option{WithBaseURL(trimmed)}, opts...)
		}
		return New(tokens, all...)
	}
}

func (p *Provider) Kind() core.ProviderKind {
	return core.ProviderKindMercadoPago
}

type userPayload struct {
	ID        json.Number `json:"id"`
	Nickname  string      `json:"nickname"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
}

func (p *Provider) Identity(ctx context.Context) (core.Identity, error) {
	if p == nil {
		return core.Identity{}, core.NewConfigurationError("mercadopago: provider is nil", nil)
	}
	body, err := p.get(ctx, "/users/me", nil)
	if err != nil {
		return core.Identity{}, err
	}

	var user userPayload
	if err := json.Unmarshal(body, &user); err != nil {
		return core.Identity{}, core.NewDataError("mercadopago: decode user payload", err)
	}
	if user.ID.String() == "" {
		return core.Identity{}, core.NewDataError("mercadopago: user payload missing id", nil)
	}

	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Nickname
	}
	return core.Identity{
		ProviderUserID: user.ID.String(),
		DisplayName:    name,
		Email:          user.Email,
	}, nil
}

type paymentPayload struct {
	ID                json.Number `json:"id"`
	DateCreated       string      `json:"date_created"`
	TransactionAmount float64     `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
	Description       string      `json:"description"`
	Status            string      `json:"status"`
	CollectorID       json.Number `json:"collector_id"`
	Payer             struct {
		ID json.Number `json:"id"`
	} `json:"payer"`
}

type searchPayload struct {
	Results []json.RawMessage `json:"results"`
	Paging  struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"paging"`
}

// Movements pages /v1/payments/search filtered by creation date. Rows that
// cannot be normalized are dropped individually; a malformed payment never
// aborts the batch.
func (p *Provider) Movements(ctx context.Context, since *time.Time) ([]core.Movement, error) {
	if p == nil {
		return nil, core.NewConfigurationError("mercadopago: provider is nil", nil)
	}

	now := p.now()
	begin := now.Add(-defaultWindow)
	if since != nil {
		begin = since.UTC()
	}

	movements := []core.Movement{}
	offset := 0
	for {
		query := url.Values{}
		query.Set("range", "date_created")
		query.Set("begin_date", begin.Format(dateLayout))
		query.Set("end_date", now.Format(dateLayout))
		query.Set("sort", "date_created")
		query.Set("criteria", "desc")
		query.Set("limit", strconv.Itoa(defaultPageSize))
		query.Set("offset", strconv.Itoa(offset))

		body, err := p.get(ctx, "/v1/payments/search", query)
		if err != nil {
			return nil, err
		}

		var page searchPayload
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, core.NewDataError("mercadopago: decode payments page", err)
		}

		for _, raw := range page.Results {
			movement, err := p.normalizePayment(raw)
			if err != nil {
				// Row-level failure: skip and continue with the batch.
				continue
			}
			movements = append(movements, movement)
		}

		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Paging.Total {
			break
		}
	}
	return movements, nil
}

func (p *Provider) normalizePayment(raw json.RawMessage) (core.Movement, error) {
	var payment paymentPayload
	if err := json.Unmarshal(raw, &payment); err != nil {
		return core.Movement{}, core.NewDataError("mercadopago: decode payment row", err)
	}
	if payment.ID.String() == "" {
		return core.Movement{}, core.NewDataError("mercadopago: payment missing id", nil)
	}
	createdAt, err := parsePaymentDate(payment.DateCreated)
	if err != nil {
		return core.Movement{}, core.NewDataError(
			fmt.Sprintf("mercadopago: payment %s has malformed date_created", payment.ID.String()), err)
	}

	var rawFields map[string]any
	_ = json.Unmarshal(raw, &rawFields)

	movement := core.Movement{
		ProviderTxID:   payment.ID.String(),
		Amount:         decimal.NewFromFloat(payment.TransactionAmount),
		Currency:       strings.TrimSpace(payment.CurrencyID),
		CreatedAt:      createdAt,
		Description:    strings.TrimSpace(payment.Description),
		CounterpartyID: payment.Payer.ID.String(),
		Status:         mapPaymentStatus(payment.Status),
		Direction:      p.direction(payment),
		Raw:            rawFields,
	}
	if err := movement.Validate(); err != nil {
		return core.Movement{}, core.NewDataError("mercadopago: payment failed validation", err)
	}
	return movement, nil
}

// direction resolves income versus expense by which side of the payment
// the connected account sits on.
func (p *Provider) direction(payment paymentPayload) core.EntryDirection {
	if p.userID != "" && payment.CollectorID.String() == p.userID {
		return core.EntryDirectionIncome
	}
	if p.userID != "" && payment.Payer.ID.String() == p.userID {
		return core.EntryDirectionExpense
	}
	if payment.TransactionAmount < 0 {
		return core.EntryDirectionExpense
	}
	return core.EntryDirectionIncome
}

func mapPaymentStatus(status string) core.EntryStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "authorized", "accredited":
		return core.EntryStatusCompleted
	case "cancelled", "rejected", "refunded", "charged_back":
		return core.EntryStatusCancelled
	default:
		return core.EntryStatusPending
	}
}

func parsePaymentDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{dateLayout, time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func (p *Provider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	response, err := p.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTransientError("mercadopago: request failed", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if readErr != nil {
		return nil, core.NewTransientError("mercadopago: read response", readErr)
	}

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return nil, core.NewAuthorizationError(
			fmt.Sprintf("mercadopago: request rejected (%d)", response.StatusCode), nil)
	case response.StatusCode == http.StatusTooManyRequests:
		return nil, core.NewTransientError("mercadopago: rate limited (429)", nil)
	case response.StatusCode >= http.StatusInternalServerError:
		return nil, core.NewTransientError(
			fmt.Sprintf("mercadopago: service unavailable (%d)", response.StatusCode), nil)
	case response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices:
		return nil, core.NewDataError(
			fmt.Sprintf("mercadopago: unexpected response (%d)", response.StatusCode), nil)
	}
	return body, nil
}

func (p *Provider) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.Provider = (*Provider)(nil)
