package model

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ActionType discriminates the authorize action payloads.
type ActionType string

const (
	ActionSeatReservation ActionType = "SeatReservation"
	ActionCreditCard      ActionType = "CreditCard"
)

// ActionStatus moves Active -> Completed | Canceled | Failed.
type ActionStatus string

const (
	ActionActive    ActionStatus = "Active"
	ActionCompleted ActionStatus = "Completed"
	ActionCanceled  ActionStatus = "Canceled"
	ActionFailed    ActionStatus = "Failed"
)

// PartyType tells which side of the sale a party is on.
type PartyType string

const (
	PartySeller   PartyType = "Seller"
	PartyCustomer PartyType = "Customer"
)

// Party is the agent or recipient of an authorize action.
type Party struct {
	TypeOf PartyType `json:"type_of"`
	ID     string    `json:"id"`
	Name   string    `json:"name,omitempty"`
}

// Purpose points back at the transaction an action belongs to.
type Purpose struct {
	TypeOf TransactionType `json:"type_of"`
	ID     string          `json:"id"`
}

// ActionObject is the request payload of an authorize action.  Each action
// type has exactly one object shape.
type ActionObject interface {
	ActionType() ActionType
}

// ActionResult is the payload attached when an action completes.
type ActionResult interface {
	ActionType() ActionType
	// AuthorizedAmount is the money the action's agent committed to: the
	// seat price for a reservation, the held amount for a card.
	AuthorizedAmount() decimal.Decimal
}

// AuthorizeAction is the shared envelope around the typed payloads.
type AuthorizeAction struct {
	ID        string
	TypeOf    ActionType
	Status    ActionStatus
	Purpose   Purpose
	Agent     Party
	Recipient Party
	Object    ActionObject
	Result    ActionResult
	Error     string
	StartDate time.Time
	EndDate   *time.Time
}

// ActionQuery filters searchByPurpose.  An empty TypeOf matches every type.
type ActionQuery struct {
	TypeOf  ActionType
	Purpose Purpose
}

// Ticket is one held seat inside a seat reservation result.
type Ticket struct {
	TicketID   string          `json:"ticket_id"`
	SeatID     uint64          `json:"seat_id"`
	SeatNumber string          `json:"seat_number"`
	Section    string          `json:"section"`
	Category   string          `json:"category"`
	TicketType string          `json:"ticket_type"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// SeatReservationObject asks the inventory to hold seats of one show.
type SeatReservationObject struct {
	ShowID  uint64   `json:"show_id"`
	SeatIDs []uint64 `json:"seat_ids"`
}

func (SeatReservationObject) ActionType() ActionType { return ActionSeatReservation }

// SeatReservationResult describes the seats actually held.  AdmissionKeys
// are the rate-limit slots taken for limited categories; compensation
// releases them.
type SeatReservationResult struct {
	ShowID        uint64          `json:"show_id"`
	ShowStartsAt  time.Time       `json:"show_starts_at"`
	HoldToken     string          `json:"hold_token"`
	Tickets       []Ticket        `json:"tickets"`
	Price         decimal.Decimal `json:"price"`
	PriceCurrency string          `json:"price_currency"`
	AdmissionKeys []string        `json:"admission_keys,omitempty"`
}

func (SeatReservationResult) ActionType() ActionType { return ActionSeatReservation }

func (r SeatReservationResult) AuthorizedAmount() decimal.Decimal { return r.Price }

// CreditCardObject asks the gateway to hold an amount.
type CreditCardObject struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	MethodCode string          `json:"method_code"`
}

func (CreditCardObject) ActionType() ActionType { return ActionCreditCard }

// CreditCardResult carries the gateway trace id of the hold.
type CreditCardResult struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	TraceID  string          `json:"trace_id"`
}

func (CreditCardResult) ActionType() ActionType { return ActionCreditCard }

func (r CreditCardResult) AuthorizedAmount() decimal.Decimal { return r.Amount }

// payload constructors per action type
var payloads = map[ActionType]struct {
	object func() ActionObject
	result func() ActionResult
}{
	ActionSeatReservation: {
		object: func() ActionObject { return &SeatReservationObject{} },
		result: func() ActionResult { return &SeatReservationResult{} },
	},
	ActionCreditCard: {
		object: func() ActionObject { return &CreditCardObject{} },
		result: func() ActionResult { return &CreditCardResult{} },
	},
}

// KnownActionType reports whether t has registered payload shapes.
func KnownActionType(t ActionType) bool {
	_, ok := payloads[t]
	return ok
}

// EncodePayload serializes an object or result for storage.  A nil payload
// encodes to nil.
func EncodePayload(v interface{ ActionType() ActionType }) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeObject parses a stored object for the given action type.
func DecodeObject(t ActionType, raw []byte) (ActionObject, error) {
	p, ok := payloads[t]
	if !ok {
		return nil, fmt.Errorf("model: unknown action type %q", t)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	obj := p.object()
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, fmt.Errorf("model: decode %s object: %w", t, err)
	}
	return deref(obj).(ActionObject), nil
}

// DecodeResult parses a stored result for the given action type.
func DecodeResult(t ActionType, raw []byte) (ActionResult, error) {
	p, ok := payloads[t]
	if !ok {
		return nil, fmt.Errorf("model: unknown action type %q", t)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	res := p.result()
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("model: decode %s result: %w", t, err)
	}
	return deref(res).(ActionResult), nil
}

// deref returns the value behind the constructor pointers so callers can
// type-switch on value types.
func deref(v any) any {
	switch p := v.(type) {
	case *SeatReservationObject:
		return *p
	case *SeatReservationResult:
		return *p
	case *CreditCardObject:
		return *p
	case *CreditCardResult:
		return *p
	}
	return v
}

type actionJSON struct {
	ID        string          `json:"id"`
	TypeOf    ActionType      `json:"type_of"`
	Status    ActionStatus    `json:"action_status"`
	Purpose   Purpose         `json:"purpose"`
	Agent     Party           `json:"agent"`
	Recipient Party           `json:"recipient"`
	Object    json.RawMessage `json:"object,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartDate time.Time       `json:"start_date"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

func (a AuthorizeAction) MarshalJSON() ([]byte, error) {
	obj, err := EncodePayload(a.Object)
	if err != nil {
		return nil, err
	}
	var res []byte
	if a.Result != nil {
		if res, err = EncodePayload(a.Result); err != nil {
			return nil, err
		}
	}
	return json.Marshal(actionJSON{
		ID: a.ID, TypeOf: a.TypeOf, Status: a.Status, Purpose: a.Purpose,
		Agent: a.Agent, Recipient: a.Recipient, Object: obj, Result: res,
		Error: a.Error, StartDate: a.StartDate, EndDate: a.EndDate,
	})
}

func (a *AuthorizeAction) UnmarshalJSON(b []byte) error {
	var aux actionJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	obj, err := DecodeObject(aux.TypeOf, aux.Object)
	if err != nil {
		return err
	}
	res, err := DecodeResult(aux.TypeOf, aux.Result)
	if err != nil {
		return err
	}
	*a = AuthorizeAction{
		ID: aux.ID, TypeOf: aux.TypeOf, Status: aux.Status, Purpose: aux.Purpose,
		Agent: aux.Agent, Recipient: aux.Recipient, Object: obj, Result: res,
		Error: aux.Error, StartDate: aux.StartDate, EndDate: aux.EndDate,
	}
	return nil
}
