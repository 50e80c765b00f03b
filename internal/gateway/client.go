package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

// Remote authority names used for breakers, logs and errors.
const (
	CustomerService = "customer-service"
	ProductService  = "product-service"
)

const maxResponseBytes = 1 << 20

// restClient performs JSON requests against one remote authority and maps
// non-2xx responses through DecodeStatus.
type restClient struct {
	target  string
	baseURL string
	http    *http.Client
}

func newRESTClient(target, baseURL string, hc *http.Client) restClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return restClient{
		target:  target,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

func (c restClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Unavailable(c.target, apperr.ReasonUpstreamError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.Unavailable(c.target, apperr.ReasonUpstreamError, errors.Wrap(err, "read body"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, DecodeStatus(c.target, resp.StatusCode, data)
	}
	return data, nil
}

// CustomerClient is the raw transport to the customer directory.
type CustomerClient struct {
	rest restClient
}

// NewCustomerClient creates a client for the directory at baseURL.
func NewCustomerClient(baseURL string, hc *http.Client) *CustomerClient {
	return &CustomerClient{rest: newRESTClient(CustomerService, baseURL, hc)}
}

// GetCustomer fetches GET /api/customers/{id}.
func (c *CustomerClient) GetCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	body, err := c.rest.do(ctx, http.MethodGet, "/api/customers/"+url.PathEscape(id), nil)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return nil, apperr.NotFoundf("customer", id)
		}
		return nil, err
	}
	return decodeCustomer(body)
}

// ProductClient is the raw transport to the product catalog.
type ProductClient struct {
	rest restClient
}

// NewProductClient creates a client for the catalog at baseURL.
func NewProductClient(baseURL string, hc *http.Client) *ProductClient {
	return &ProductClient{rest: newRESTClient(ProductService, baseURL, hc)}
}

// GetProduct fetches GET /api/products/{id}.
func (c *ProductClient) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	body, err := c.rest.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return nil, apperr.NotFoundf("product", id)
		}
		return nil, err
	}
	return decodeProduct(body)
}

// DeductStock calls POST /api/products/{id}/deduct-stock and returns the
// remaining quantity, or -1 when the catalog does not report it.
func (c *ProductClient) DeductStock(ctx context.Context, id string, qty int) (int, error) {
	return c.mutateStock(ctx, id, "deduct-stock", qty)
}

// RestoreStock calls POST /api/products/{id}/restore-stock.
func (c *ProductClient) RestoreStock(ctx context.Context, id string, qty int) (int, error) {
	return c.mutateStock(ctx, id, "restore-stock", qty)
}

func (c *ProductClient) mutateStock(ctx context.Context, id, action string, qty int) (int, error) {
	path := "/api/products/" + url.PathEscape(id) + "/" + action
	body, err := c.rest.do(ctx, http.MethodPost, path, encodeStockUpdate(id, qty))
	if err != nil {
		var se *StatusError
		switch {
		case apperr.IsKind(err, apperr.NotFound):
			return 0, apperr.NotFoundf("product", id)
		case errors.As(err, &se) && se.Code == http.StatusConflict:
			return 0, &apperr.Error{
				Kind:   apperr.StockInsufficient,
				Reason: apperr.ReasonInsufficientStock,
				Msg:    withDefault(se.Message, "insufficient stock for product "+id),
			}
		}
		return 0, err
	}
	return decodeStockLevel(body)
}
