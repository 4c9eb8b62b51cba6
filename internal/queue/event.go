// Package queue defines message payloads exchanged over the message broker
// and the publisher and consumer of the order.confirmed queue.
package queue

import (
	"time"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// OrderConfirmedQueue is the durable queue confirmed orders are published to.
const OrderConfirmedQueue = "order.confirmed"

// OrderConfirmedEvent is published when a transaction is confirmed.  It
// carries enough of the order for downstream consumers to log or notify
// without querying the primary database.  Customer contact details are
// left out.
type OrderConfirmedEvent struct {
	TransactionID      string   `json:"transaction_id"`
	OrderNumber        string   `json:"order_number"`
	ConfirmationNumber string   `json:"confirmation_number"`
	SellerID           string   `json:"seller_id"`
	CustomerID         string   `json:"customer_id"`
	ShowID             uint64   `json:"show_id"`
	ShowStartsAt       string   `json:"show_starts_at"`
	Seats              []string `json:"seats"`
	Price              string   `json:"price"`
	PriceCurrency      string   `json:"price_currency"`
	PaymentMethod      string   `json:"payment_method"`
	ConfirmedAt        string   `json:"confirmed_at"`
}

// NewOrderConfirmedEvent builds the event for a confirmed transaction.
func NewOrderConfirmedEvent(txID string, o model.Order) OrderConfirmedEvent {
	seats := make([]string, 0, len(o.AcceptedOffers))
	for _, of := range o.AcceptedOffers {
		seats = append(seats, of.SeatNumber)
	}
	return OrderConfirmedEvent{
		TransactionID:      txID,
		OrderNumber:        o.OrderNumber,
		ConfirmationNumber: o.ConfirmationNumber,
		SellerID:           o.Seller.ID,
		CustomerID:         o.Customer.ID,
		ShowID:             o.ShowID,
		ShowStartsAt:       o.ShowStartsAt.UTC().Format(time.RFC3339),
		Seats:              seats,
		Price:              o.Price.String(),
		PriceCurrency:      o.PriceCurrency,
		PaymentMethod:      string(o.PaymentMethod),
		ConfirmedAt:        o.OrderDate.UTC().Format(time.RFC3339),
	}
}
