package model

import "time"

// TransactionType names the kind of saga a transaction runs.  Only order
// placement exists today; it is also the purpose type written on every
// authorize action.
type TransactionType string

const TransactionPlaceOrder TransactionType = "PlaceOrder"

// TransactionStatus is the saga state.  Confirmed and Expired are terminal.
type TransactionStatus string

const (
	TransactionInProgress TransactionStatus = "InProgress"
	TransactionConfirmed  TransactionStatus = "Confirmed"
	TransactionExpired    TransactionStatus = "Expired"
)

// PaymentMethod is chosen at confirmation time and decides which
// authorizations must exist before the transaction can be closed.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "Cash"
	PaymentCreditCard PaymentMethod = "CreditCard"
	PaymentInvoice    PaymentMethod = "Invoice"
	PaymentCharter    PaymentMethod = "Charter"
	PaymentComp       PaymentMethod = "Comp"
)

// Agent is the purchasing actor.  Group drives the closability rules
// (public customers versus internal staff).
type Agent struct {
	ID    string `json:"id"`
	Group string `json:"group"`
	Name  string `json:"name,omitempty"`
}

// Seller is the organization selling the seats.
type Seller struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CustomerContact is the buyer's contact detail.  Telephone is stored in
// E.164 form.
type CustomerContact struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
	Telephone  string `json:"telephone"`
}

// ActionRef is the materialized reference to an authorize action that the
// transaction keeps once it is confirmed.
type ActionRef struct {
	ID     string       `json:"id"`
	TypeOf ActionType   `json:"type_of"`
	Status ActionStatus `json:"action_status"`
}

// TransactionResult exists only on confirmed transactions.
type TransactionResult struct {
	Order Order `json:"order"`
}

// Transaction is one customer purchase attempt.
type Transaction struct {
	ID               string             `json:"id"`
	TypeOf           TransactionType    `json:"type_of"`
	Status           TransactionStatus  `json:"status"`
	Seller           Seller             `json:"seller"`
	Agent            Agent              `json:"agent"`
	PassportHash     string             `json:"-"`
	Expires          time.Time          `json:"expires"`
	StartDate        time.Time          `json:"start_date"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	CustomerContact  *CustomerContact   `json:"customer_contact,omitempty"`
	PaymentMethod    PaymentMethod      `json:"payment_method,omitempty"`
	AuthorizeActions []ActionRef        `json:"authorize_actions,omitempty"`
	Result           *TransactionResult `json:"result,omitempty"`
}

// IsOwnedBy reports whether agentID started the transaction.
func (t *Transaction) IsOwnedBy(agentID string) bool {
	return agentID != "" && t.Agent.ID == agentID
}

// ConfirmParams is the terminal state written by a successful confirm.
type ConfirmParams struct {
	TransactionID    string
	AuthorizeActions []ActionRef
	PaymentMethod    PaymentMethod
	Result           TransactionResult
	EndDate          time.Time
}
