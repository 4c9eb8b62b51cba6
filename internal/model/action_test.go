package model

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeActionJSONKeepsPayloadVariant(t *testing.T) {
	end := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	in := AuthorizeAction{
		ID:      "a1",
		TypeOf:  ActionSeatReservation,
		Status:  ActionCompleted,
		Purpose: Purpose{TypeOf: TransactionPlaceOrder, ID: "t1"},
		Agent:   Party{TypeOf: PartySeller, ID: "s1"},
		Object:  SeatReservationObject{ShowID: 7, SeatIDs: []uint64{1, 2}},
		Result: SeatReservationResult{
			ShowID: 7,
			Tickets: []Ticket{
				{TicketID: "k1", SeatID: 1, UnitPrice: decimal.RequireFromString("12.50")},
				{TicketID: "k2", SeatID: 2, UnitPrice: decimal.RequireFromString("7.50")},
			},
			Price: decimal.RequireFromString("20.00"),
		},
		StartDate: end.Add(-time.Minute),
		EndDate:   &end,
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out AuthorizeAction
	require.NoError(t, json.Unmarshal(raw, &out))

	obj, ok := out.Object.(SeatReservationObject)
	require.True(t, ok, "object type %T", out.Object)
	require.Equal(t, []uint64{1, 2}, obj.SeatIDs)

	res, ok := out.Result.(SeatReservationResult)
	require.True(t, ok, "result type %T", out.Result)
	require.True(t, res.AuthorizedAmount().Equal(decimal.RequireFromString("20")))
	require.Len(t, res.Tickets, 2)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeObject("Pointcard", []byte(`{}`))
	require.Error(t, err)
	require.False(t, KnownActionType("Pointcard"))
	require.True(t, KnownActionType(ActionCreditCard))
}

func TestDecodeEmptyResult(t *testing.T) {
	res, err := DecodeResult(ActionCreditCard, nil)
	require.NoError(t, err)
	require.Nil(t, res)
}
