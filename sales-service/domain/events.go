package domain

import (
	"time"

	"github.com/retailcore/sales-system/shared/models"
)

// Event payload schemas. One explicit struct per event type keeps the
// payloads typed across the service boundary while unknown fields are
// still tolerated on read.

type TransactionCreatedData struct {
	SagaID     models.ID    `json:"saga_id"`
	CustomerID models.ID    `json:"customer_id"`
	ProductID  models.ID    `json:"product_id"`
	Quantity   int          `json:"quantity"`
	Amount     models.Money `json:"amount"`
}

type SaleConfirmedData struct {
	SagaID     models.ID    `json:"saga_id"`
	CustomerID models.ID    `json:"customer_id"`
	OrderID    *string      `json:"order_id,omitempty"`
	Amount     models.Money `json:"amount"`
}

type SaleFailedData struct {
	SagaID       models.ID `json:"saga_id"`
	CustomerID   models.ID `json:"customer_id"`
	FromState    string    `json:"from_state"`
	ErrorMessage string    `json:"error_message"`
}

type SagaStepData struct {
	SagaID    models.ID `json:"saga_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
}

type SagaCompensatingData struct {
	SagaID             models.ID `json:"saga_id"`
	FromState          string    `json:"from_state"`
	StockReservationID *string   `json:"stock_reservation_id,omitempty"`
}

type InventoryReservedData struct {
	SagaID        models.ID `json:"saga_id"`
	ProductID     models.ID `json:"product_id"`
	Quantity      int       `json:"quantity"`
	ReservationID string    `json:"reservation_id"`
}

type InventoryUnavailableData struct {
	SagaID    models.ID `json:"saga_id"`
	ProductID models.ID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

type InventoryReleasedData struct {
	SagaID        models.ID `json:"saga_id"`
	ReservationID string    `json:"reservation_id"`
}

type InventoryReleaseFailedData struct {
	SagaID        models.ID `json:"saga_id"`
	ReservationID string    `json:"reservation_id"`
	Reason        string    `json:"reason"`
}

type PaymentProcessedData struct {
	SagaID        models.ID    `json:"saga_id"`
	CustomerID    models.ID    `json:"customer_id"`
	Amount        models.Money `json:"amount"`
	TransactionID string       `json:"transaction_id"`
}

type PaymentFailedData struct {
	SagaID    models.ID `json:"saga_id"`
	Reason    string    `json:"reason"`
	ErrorCode string    `json:"error_code"`
}

type PaymentRefundedData struct {
	SagaID        models.ID `json:"saga_id"`
	TransactionID string    `json:"transaction_id"`
	Reason        string    `json:"reason"`
	RefundedAt    time.Time `json:"refunded_at"`
}

type OrderFulfilledData struct {
	SagaID  models.ID `json:"saga_id"`
	OrderID string    `json:"order_id"`
}

type SagaTimedOutData struct {
	SagaID    models.ID `json:"saga_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}
