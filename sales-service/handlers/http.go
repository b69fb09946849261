package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/application"
	"github.com/retailcore/sales-system/sales-service/infrastructure"
)

// SaleHandlers contains sale HTTP handlers
type SaleHandlers struct {
	sellProduct *application.SellProduct
	getSale     *application.GetSale
}

// NewSaleHandlers creates new sale handlers
func NewSaleHandlers(
	sellProduct *application.SellProduct,
	getSale *application.GetSale,
) *SaleHandlers {
	return &SaleHandlers{
		sellProduct: sellProduct,
		getSale:     getSale,
	}
}

// CreateSale runs a sale saga to completion and returns its outcome
func (h *SaleHandlers) CreateSale(w http.ResponseWriter, r *http.Request) {
	var cmd application.SellProductCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.sellProduct.Execute(r.Context(), &cmd)
	if err != nil {
		if strings.Contains(err.Error(), "invalid command") || strings.Contains(err.Error(), "invalid customer ID") || strings.Contains(err.Error(), "invalid product ID") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GetSale returns the current state of a sale saga
func (h *SaleHandlers) GetSale(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Sale ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getSale.Execute(r.Context(), &application.GetSaleQuery{SagaID: sagaID})
	if err != nil {
		if errors.Is(err, infrastructure.ErrSagaNotFound) {
			http.Error(w, "sale not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers sale routes
func (h *SaleHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.CreateSale)
		r.Get("/{id}", h.GetSale)
	})
}
