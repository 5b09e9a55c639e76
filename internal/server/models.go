package server

import (
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// CreateOrderRequest starts a run.
type CreateOrderRequest struct {
	Prompt     string `json:"prompt"`
	Storefront string `json:"storefront,omitempty"`
}

// ReplyRequest answers the outstanding prompt of a run.
type ReplyRequest struct {
	Answer string `json:"answer"`
}

// Order states reported while a run is live.
const (
	StatusRunning        = "running"
	StatusAwaitingChoice = "awaiting_choice"
)

// OrderResponse is the polled view of one order.
type OrderResponse struct {
	ID      string               `json:"id"`
	Status  string               `json:"status"`
	Prompt  *notify.Prompt       `json:"prompt,omitempty"`
	Events  []notify.Event       `json:"events,omitempty"`
	Outcome *models.OrderOutcome `json:"outcome,omitempty"`
}

// OrderListResponse lists the caller's orders.
type OrderListResponse struct {
	Active   []string              `json:"active"`
	Finished []models.OrderOutcome `json:"finished"`
}
