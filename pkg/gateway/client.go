// Package gateway talks to the connector gateway that holds each merchant's
// upstream credentials and serves normalized records per stream.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
)

const defaultTimeout = 30 * time.Second

const responseBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("gateway base url is required")

// Client calls the connector gateway over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient builds a gateway client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Record is one upstream record already shaped as an event payload.
type Record struct {
	EventType enums.EventType `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// PageRequest selects one page of a stream's history.
type PageRequest struct {
	MerchantID string
	StreamType string
	Since      time.Time
	Until      time.Time
	Cursor     string
	Limit      int
}

// Page is one page of records; an empty NextCursor ends the scan.
type Page struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor"`
}

// FetchPage returns one page of historical records for a stream.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if strings.TrimSpace(req.MerchantID) == "" || strings.TrimSpace(req.StreamType) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and stream type are required")
	}

	query := url.Values{}
	if !req.Since.IsZero() {
		query.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if !req.Until.IsZero() {
		query.Set("until", req.Until.UTC().Format(time.RFC3339))
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	endpoint := c.buildURL(fmt.Sprintf("merchants/%s/streams/%s/records",
		url.PathEscape(req.MerchantID), url.PathEscape(req.StreamType)), query)

	var page Page
	if err := c.get(ctx, endpoint, "record page", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SpendRequest selects one day of spend on one ad platform.
type SpendRequest struct {
	MerchantID string
	Platform   string
	Date       time.Time
}

// FetchAdSpend returns the day's spend rows for a merchant's ad platform,
// each shaped as an ad_spend_recorded payload.
func (c *Client) FetchAdSpend(ctx context.Context, req SpendRequest) ([]json.RawMessage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if strings.TrimSpace(req.MerchantID) == "" || strings.TrimSpace(req.Platform) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and platform are required")
	}

	query := url.Values{}
	query.Set("date", req.Date.UTC().Format("2006-01-02"))
	endpoint := c.buildURL(fmt.Sprintf("merchants/%s/ad-platforms/%s/spend",
		url.PathEscape(req.MerchantID), url.PathEscape(req.Platform)), query)

	var resp struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := c.get(ctx, endpoint, "ad spend", &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) get(ctx context.Context, endpoint, what string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+what+" request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+what+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		code := pkgerrors.CodeDependency
		if resp.StatusCode == http.StatusTooManyRequests {
			code = pkgerrors.CodeRateLimit
		}
		return pkgerrors.Wrap(code, cause, what+" request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+what+" response")
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return endpoint
}
