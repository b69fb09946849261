package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/models"
)

// GetSaleQuery represents the query to get a sale saga
type GetSaleQuery struct {
	SagaID string `json:"saga_id"`
}

// GetSaleResponse represents the response for getting a sale saga
type GetSaleResponse struct {
	SagaID               string  `json:"saga_id"`
	CustomerID           string  `json:"customer_id"`
	ProductID            string  `json:"product_id"`
	Quantity             int     `json:"quantity"`
	Amount               int64   `json:"amount"`
	Currency             string  `json:"currency"`
	State                string  `json:"state"`
	StockReservationID   *string `json:"stock_reservation_id,omitempty"`
	PaymentTransactionID *string `json:"payment_transaction_id,omitempty"`
	OrderID              *string `json:"order_id,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`
	RetryCount           int     `json:"retry_count"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// GetSale use case
type GetSale struct {
	repository domain.SagaExecutionRepository
}

// NewGetSale creates a new GetSale use case
func NewGetSale(repository domain.SagaExecutionRepository) *GetSale {
	return &GetSale{repository: repository}
}

// Execute executes the get sale use case
func (uc *GetSale) Execute(ctx context.Context, query *GetSaleQuery) (*GetSaleResponse, error) {
	if query.SagaID == "" {
		return nil, errors.New("saga ID is required")
	}

	sagaID, err := models.NewID(query.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	execution, err := uc.repository.FindByID(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find sale saga")
	}

	return &GetSaleResponse{
		SagaID:               execution.ID.String(),
		CustomerID:           execution.CustomerID.String(),
		ProductID:            execution.ProductID.String(),
		Quantity:             execution.Quantity,
		Amount:               execution.Amount.Amount,
		Currency:             execution.Amount.Currency,
		State:                execution.State.String(),
		StockReservationID:   execution.StockReservationID,
		PaymentTransactionID: execution.PaymentTransactionID,
		OrderID:              execution.OrderID,
		ErrorMessage:         execution.ErrorMessage,
		RetryCount:           execution.RetryCount,
		CreatedAt:            execution.Timestamps.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            execution.Timestamps.UpdatedAt.Format(time.RFC3339),
	}, nil
}
