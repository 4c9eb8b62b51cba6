package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

func sampleOrder() model.Order {
	return model.Order{
		OrderNumber:        "260412-812345",
		ConfirmationNumber: "20260412812345",
		Seller:             model.Seller{ID: "seller-1"},
		Customer:           model.Agent{ID: "agent-1", Group: "Customer"},
		CustomerContact:    &model.CustomerContact{Email: "buyer@example.com"},
		ShowID:             42,
		ShowStartsAt:       time.Date(2026, 4, 12, 19, 0, 0, 0, time.UTC),
		AcceptedOffers: []model.Offer{
			{TicketID: "t1", SeatNumber: "C7", Price: decimal.NewFromInt(1800)},
			{TicketID: "t2", SeatNumber: "C8", Price: decimal.NewFromInt(1800)},
		},
		Price:         decimal.NewFromInt(3600),
		PriceCurrency: "JPY",
		PaymentMethod: model.PaymentCreditCard,
		OrderDate:     time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestNewOrderConfirmedEventHasNoContact(t *testing.T) {
	ev := NewOrderConfirmedEvent("tx1", sampleOrder())
	require.Equal(t, []string{"C7", "C8"}, ev.Seats)
	require.Equal(t, "3600", ev.Price)
	require.Equal(t, "2026-04-12T19:00:00Z", ev.ShowStartsAt)

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NotContains(t, string(b), "buyer@example.com")
}

func TestConsumerHandleAppendsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "orders.log")
	c := NewConsumer("amqp://unused", path, nil)

	body, err := json.Marshal(NewOrderConfirmedEvent("tx1", sampleOrder()))
	require.NoError(t, err)
	require.NoError(t, c.Handle(body))
	require.NoError(t, c.Handle(body))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "order=260412-812345")
	require.Contains(t, lines[0], "seats=[C7,C8]")
}

func TestConsumerRejectsBadMessages(t *testing.T) {
	c := NewConsumer("amqp://unused", filepath.Join(t.TempDir(), "orders.log"), nil)
	require.Error(t, c.Handle([]byte("not json")))
	require.Error(t, c.Handle([]byte(`{"transaction_id":"tx1"}`)))
}
