package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/models"
)

var (
	_ domain.InventoryClient = (*HTTPInventoryClient)(nil)
	_ domain.PaymentClient   = (*HTTPPaymentClient)(nil)
	_ domain.OrderClient     = (*HTTPOrderClient)(nil)
)

// CollaboratorConfig holds the connection settings for one collaborator
// service
type CollaboratorConfig struct {
	BaseURL    string
	RetryMax   int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// newRetryableClient builds the shared transport. Transient transport
// errors and 5xx responses are retried with backoff; 4xx responses are
// not, they carry the collaborator's verdict.
func newRetryableClient(cfg CollaboratorConfig) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.Logger = nil
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	return client
}

// collaboratorError is the error body collaborators return on declines
type collaboratorError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// doJSON posts a JSON payload and decodes the JSON response into out.
// Declines (4xx with an error body) come back as BusinessError.
func doJSON(ctx context.Context, client *retryablehttp.Client, method, url string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		body = bytes.NewReader(encoded)
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, url)
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 && response.StatusCode < 500 {
		var decline collaboratorError
		if err := json.NewDecoder(response.Body).Decode(&decline); err != nil || decline.Code == "" {
			decline = collaboratorError{Code: "rejected", Message: http.StatusText(response.StatusCode)}
		}
		return domain.NewBusinessError(decline.Code, decline.Message)
	}
	if response.StatusCode >= 500 {
		return errors.Errorf("%s %s: unexpected status %d", method, url, response.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response body")
	}
	return nil
}

// HTTPInventoryClient talks to the inventory service
type HTTPInventoryClient struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPInventoryClient creates a new HTTPInventoryClient
func NewHTTPInventoryClient(cfg CollaboratorConfig) *HTTPInventoryClient {
	return &HTTPInventoryClient{baseURL: cfg.BaseURL, client: newRetryableClient(cfg)}
}

// VerifyStock checks availability without reserving anything
func (c *HTTPInventoryClient) VerifyStock(ctx context.Context, productID models.ID, quantity int) (bool, error) {
	request := map[string]interface{}{
		"product_id": productID.String(),
		"quantity":   quantity,
	}
	var response struct {
		Available bool `json:"available"`
	}

	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/stock/verify", request, &response); err != nil {
		return false, err
	}
	return response.Available, nil
}

// Reserve places a reservation tied to the saga
func (c *HTTPInventoryClient) Reserve(ctx context.Context, productID models.ID, quantity int, sagaID models.ID) (string, error) {
	request := map[string]interface{}{
		"product_id": productID.String(),
		"quantity":   quantity,
		"saga_id":    sagaID.String(),
	}
	var response struct {
		ReservationID string `json:"reservation_id"`
	}

	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/reservations", request, &response); err != nil {
		return "", err
	}
	if response.ReservationID == "" {
		return "", errors.New("inventory returned an empty reservation id")
	}
	return response.ReservationID, nil
}

// Release returns a reservation to stock
func (c *HTTPInventoryClient) Release(ctx context.Context, reservationID string) error {
	return doJSON(ctx, c.client, http.MethodDelete, c.baseURL+"/reservations/"+reservationID, nil, nil)
}

// HTTPPaymentClient talks to the payment service
type HTTPPaymentClient struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPPaymentClient creates a new HTTPPaymentClient
func NewHTTPPaymentClient(cfg CollaboratorConfig) *HTTPPaymentClient {
	return &HTTPPaymentClient{baseURL: cfg.BaseURL, client: newRetryableClient(cfg)}
}

// Charge charges the customer. The saga id doubles as the idempotency
// key so a retried request cannot double-charge.
func (c *HTTPPaymentClient) Charge(ctx context.Context, customerID models.ID, amount models.Money, method string, sagaID models.ID) (string, error) {
	request := map[string]interface{}{
		"customer_id":     customerID.String(),
		"amount":          amount.Amount,
		"currency":        amount.Currency,
		"payment_method":  method,
		"idempotency_key": sagaID.String(),
	}
	var response struct {
		TransactionID string `json:"transaction_id"`
	}

	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/charges", request, &response); err != nil {
		return "", err
	}
	if response.TransactionID == "" {
		return "", errors.New("payment returned an empty transaction id")
	}
	return response.TransactionID, nil
}

// Refund reverses a charge. The provider treats refunding an already
// refunded transaction as a no-op.
func (c *HTTPPaymentClient) Refund(ctx context.Context, paymentRef string, reason string) error {
	request := map[string]interface{}{
		"transaction_id": paymentRef,
		"reason":         reason,
	}
	return doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/refunds", request, nil)
}

// HTTPOrderClient talks to the order service
type HTTPOrderClient struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPOrderClient creates a new HTTPOrderClient
func NewHTTPOrderClient(cfg CollaboratorConfig) *HTTPOrderClient {
	return &HTTPOrderClient{baseURL: cfg.BaseURL, client: newRetryableClient(cfg)}
}

// ConfirmOrder creates the confirmed order for a completed saga
func (c *HTTPOrderClient) ConfirmOrder(ctx context.Context, sagaID models.ID, items []domain.OrderItem) (string, error) {
	request := map[string]interface{}{
		"saga_id": sagaID.String(),
		"items":   items,
	}
	var response struct {
		OrderID string `json:"order_id"`
	}

	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/orders", request, &response); err != nil {
		return "", err
	}
	if response.OrderID == "" {
		return "", errors.New("order service returned an empty order id")
	}
	return response.OrderID, nil
}
