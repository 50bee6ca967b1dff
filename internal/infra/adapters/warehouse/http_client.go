package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"warehouse-miniapp/internal/domain"
	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.WarehouseAPI = (*HTTPClient)(nil)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultClientTimeout   = 15 * time.Second
	maxBodyBytes           = 8 << 20
)

// BuildHTTPClient returns a client tuned for the warehouse backend. It makes
// a single attempt per request.
func BuildHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// HTTPClient calls the warehouse REST backend.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	log    zerolog.Logger
}

func NewHTTPClient(baseURL string, client *http.Client, logger *zerolog.Logger) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid backend url %q", domain.ErrInvalidArgument, baseURL)
	}
	if client == nil {
		client = BuildHTTPClient(0)
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "WarehouseClient").Logger()
	}
	return &HTTPClient{base: u, client: client, log: l}, nil
}

func (c *HTTPClient) GetAllProduct(ctx context.Context, p adapter.ProductsParams) ([]model.Product, error) {
	q := url.Values{}
	if g := strings.TrimSpace(p.Group); g != "" {
		q.Set("group", g)
	}
	if s := strings.TrimSpace(p.SearchValue); s != "" {
		q.Set("search", s)
	}
	var out []model.Product
	if err := c.get(ctx, "/products", q, p.InitData, false, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) GetRemainsByID(ctx context.Context, p adapter.RemainsParams) ([]model.RemainsLine, error) {
	if p.ProductID == "" {
		return nil, fmt.Errorf("%w: product id is empty", domain.ErrInvalidArgument)
	}
	var out []model.RemainsLine
	if err := c.get(ctx, "/products/"+url.PathEscape(p.ProductID)+"/remains", nil, p.InitData, true, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) GetOrders(ctx context.Context, p adapter.RemainsParams) ([]model.Order, error) {
	if p.ProductID == "" {
		return nil, fmt.Errorf("%w: product id is empty", domain.ErrInvalidArgument)
	}
	var out []model.Order
	if err := c.get(ctx, "/products/"+url.PathEscape(p.ProductID)+"/orders", nil, p.InitData, true, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) GetMovedProducts(ctx context.Context, p adapter.RemainsParams) ([]model.MovedProduct, error) {
	if p.ProductID == "" {
		return nil, fmt.Errorf("%w: product id is empty", domain.ErrInvalidArgument)
	}
	var out []model.MovedProduct
	if err := c.get(ctx, "/products/"+url.PathEscape(p.ProductID)+"/moved", nil, p.InitData, true, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) GetEvents(ctx context.Context, initData string) ([]model.Event, error) {
	var out []model.Event
	if err := c.get(ctx, "/events", nil, initData, false, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *HTTPClient) GetAllTasks(ctx context.Context, initData string) ([]model.Task, error) {
	var out []model.Task
	if err := c.get(ctx, "/tasks", nil, initData, false, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

// get decodes a JSON list into out. A 404 on a per-id resource, or an empty
// body, leaves out empty without error.
func (c *HTTPClient) get(ctx context.Context, path string, q url.Values, initData string, emptyOn404 bool, out any) error {
	target := strings.TrimRight(c.base.String(), "/") + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if initData != "" {
		req.Header.Set("Authorization", "tma "+initData)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: GET %s: %v", domain.ErrNetwork, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("backend call")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: GET %s: status %d", domain.ErrAuth, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && emptyOn404:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: GET %s: status %d", domain.ErrNetwork, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrNetwork, path, err)
	}
	return decodeList(body, out)
}

// decodeList accepts either a bare JSON array or an envelope {"data": [...]}.
func decodeList(body []byte, out any) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		trimmed = string(env.Data)
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
