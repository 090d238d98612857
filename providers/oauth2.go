package providers

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
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenClient implements the OAuth authorization-code lifecycle against a
// provider's token endpoint: consent URL construction, code exchange, and
// refresh. One TokenClient serves one provider kind.
type TokenClient struct {
	kind       core.ProviderKind
	authURL    string
	tokenURL   string
	clientID   string
	secret     string
	httpClient HTTPDoer
	timeout    time.Duration

	Now func() time.Time
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	UserID           string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

type TokenClientOption func(*TokenClient)

func WithHTTPClient(client HTTPDoer) TokenClientOption {
	return func(c *TokenClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTokenRequestTimeout(d time.Duration) TokenClientOption {
	return func(c *TokenClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewTokenClient(kind core.ProviderKind, cfg core.ProviderConfig, opts ...TokenClientOption) (*TokenClient, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, core.NewConfigurationError(fmt.Sprintf("providers: client id is required for %s", kind), nil)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, core.NewConfigurationError(fmt.Sprintf("providers: token url is required for %s", kind), nil)
	}

	client := &TokenClient{
		kind:     kind,
		authURL:  strings.TrimSpace(cfg.AuthURL),
		tokenURL: strings.TrimSpace(cfg.TokenURL),
		clientID: strings.TrimSpace(cfg.ClientID),
		secret:   strings.TrimSpace(cfg.ClientSecret),
		timeout:  defaultTokenRequestTimeout,
		Now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}
	return client, nil
}

func (c *TokenClient) Kind() core.ProviderKind {
	if c == nil {
		return ""
	}
	return c.kind
}

// AuthorizationURL builds the consent URL the user is redirected to. Fails
// before any network call when the client is not configured for OAuth.
func (c *TokenClient) AuthorizationURL(redirectURI string) (string, error) {
	if c == nil {
		return "", core.NewConfigurationError("providers: token client is nil", nil)
	}
	if c.authURL == "" {
		return "", core.NewConfigurationError(fmt.Sprintf("providers: auth url is required for %s", c.kind), nil)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.clientID)
	if trimmed := strings.TrimSpace(redirectURI); trimmed != "" {
		values.Set("redirect_uri", trimmed)
	}

	authURL := c.authURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}
	return authURL, nil
}

// Exchange trades an authorization code for a token pair.
func (c *TokenClient) Exchange(ctx context.Context, code string, redirectURI string) (core.TokenPair, error) {
	if c == nil {
		return core.TokenPair{}, core.NewConfigurationError("providers: token client is nil", nil)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenPair{}, core.NewAuthorizationError("providers: auth code is required", nil)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if trimmed := strings.TrimSpace(redirectURI); trimmed != "" {
		form.Set("redirect_uri", trimmed)
	}

	payload, err := c.fetchToken(ctx, form)
	if err != nil {
		return core.TokenPair{}, err
	}
	return c.toTokenPair(payload), nil
}

// Refresh rotates the token pair. Providers that omit the refresh token in
// the response keep the previous one; the caller handles that carry-over.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	if c == nil {
		return core.TokenPair{}, core.NewConfigurationError("providers: token client is nil", nil)
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenPair{}, core.NewAuthorizationError("providers: refresh token is required", nil)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, err := c.fetchToken(ctx, form)
	if err != nil {
		return core.TokenPair{}, err
	}
	return c.toTokenPair(payload), nil
}

func (c *TokenClient) toTokenPair(payload tokenEndpointPayload) core.TokenPair {
	pair := core.TokenPair{
		AccessToken:    strings.TrimSpace(payload.AccessToken),
		RefreshToken:   strings.TrimSpace(payload.RefreshToken),
		ProviderUserID: strings.TrimSpace(payload.UserID),
	}
	if payload.ExpiresIn > 0 {
		expiresAt := c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
		pair.ExpiresAt = &expiresAt
	}
	return pair
}

func (c *TokenClient) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *TokenClient) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	form.Set("client_id", c.clientID)
	if c.secret != "" {
		form.Set("client_secret", c.secret)
	}

	requestCtx := ctx
	cancel := func() {}
	if c.timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.tokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, core.NewTransientError("providers: token request failed", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, core.NewTransientError("providers: read token response", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	if response.StatusCode >= http.StatusInternalServerError {
		return tokenEndpointPayload{}, core.NewTransientError(
			fmt.Sprintf("providers: token endpoint unavailable (%d)", response.StatusCode), nil)
	}

	payload, parseErr := parseTokenPayload(body)
	if parseErr != nil {
		return tokenEndpointPayload{}, core.NewAuthorizationError("providers: decode token response", parseErr)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenEndpointPayload{}, core.NewAuthorizationError(fmt.Sprintf(
			"providers: token endpoint rejected the request (%d): %s",
			response.StatusCode,
			describeTokenError(payload),
		), nil)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, core.NewAuthorizationError(
			"providers: token endpoint error: "+describeTokenError(payload), nil)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, core.NewAuthorizationError(
			"providers: token endpoint response missing access token", nil)
	}
	return payload, nil
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		UserID:           readAnyString(decoded["user_id"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case float64:
		return int64(typed)
	case int64:
		return typed
	case json.Number:
		parsed, _ := typed.Int64()
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed
	default:
		return 0
	}
}

var _ core.TokenLifecycle = (*TokenClient)(nil)
