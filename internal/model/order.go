package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one accepted seat on an order.
type Offer struct {
	TicketID   string          `json:"ticket_id"`
	SeatNumber string          `json:"seat_number"`
	Section    string          `json:"seat_section"`
	TicketType string          `json:"ticket_type"`
	Price      decimal.Decimal `json:"price"`
}

// Order is the minted result of a confirmed transaction.
type Order struct {
	OrderNumber        string           `json:"order_number"`
	ConfirmationNumber string           `json:"confirmation_number"`
	Seller             Seller           `json:"seller"`
	Customer           Agent            `json:"customer"`
	CustomerContact    *CustomerContact `json:"customer_contact,omitempty"`
	ShowID             uint64           `json:"show_id"`
	ShowStartsAt       time.Time        `json:"show_starts_at"`
	AcceptedOffers     []Offer          `json:"accepted_offers"`
	Price              decimal.Decimal  `json:"price"`
	PriceCurrency      string           `json:"price_currency"`
	PaymentMethod      PaymentMethod    `json:"payment_method"`
	OrderDate          time.Time        `json:"order_date"`
}

// ReservedTicketIDs lists the ticket ids of the accepted offers.
func (o Order) ReservedTicketIDs() []string {
	ids := make([]string, 0, len(o.AcceptedOffers))
	for _, of := range o.AcceptedOffers {
		ids = append(ids, of.TicketID)
	}
	return ids
}
