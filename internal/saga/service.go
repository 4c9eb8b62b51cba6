// Package saga runs the order placement transaction: it opens a
// transaction, collects seat and payment authorizations against it, and
// either confirms it into an order or lets it expire and compensates.
//
// Every step commits on its own.  Confirmation is the only step that
// publishes an order, and it does so in a single conditional update, so a
// failure anywhere before that leaves the transaction InProgress and the
// caller may simply retry.
package saga

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/payment"
	"github.com/iliyamo/cinema-order-saga/internal/queue"
	"github.com/iliyamo/cinema-order-saga/internal/ratelimit"
	"github.com/iliyamo/cinema-order-saga/internal/telemetry"
	"github.com/iliyamo/cinema-order-saga/internal/token"
)

type TransactionStore interface {
	Create(ctx context.Context, t *model.Transaction) error
	FindByID(ctx context.Context, id string) (*model.Transaction, error)
	SetCustomerContact(ctx context.Context, id string, contact model.CustomerContact) error
	Confirm(ctx context.Context, p model.ConfirmParams) error
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type ActionStore interface {
	Start(ctx context.Context, a *model.AuthorizeAction) (*model.AuthorizeAction, error)
	Complete(ctx context.Context, typeOf model.ActionType, id string, result model.ActionResult) (*model.AuthorizeAction, error)
	Cancel(ctx context.Context, typeOf model.ActionType, id, purposeID string) (*model.AuthorizeAction, error)
	GiveUp(ctx context.Context, typeOf model.ActionType, id string, cause error) (*model.AuthorizeAction, error)
	FindByID(ctx context.Context, typeOf model.ActionType, id string) (*model.AuthorizeAction, error)
	SearchByPurpose(ctx context.Context, q model.ActionQuery) ([]*model.AuthorizeAction, error)
}

type SequenceStore interface {
	Increment(ctx context.Context, target, key string) (int64, error)
}

type TaskStore interface {
	Save(ctx context.Context, attrs model.TaskAttributes) (*model.Task, error)
}

// Inventory holds seats for a transaction.  Holder is always the
// transaction id and the hold token is the id of the seat reservation
// action, so each action releases or confirms only its own seats.
type Inventory interface {
	Reserve(ctx context.Context, req model.ReserveRequest) (*model.Reservation, error)
	Release(ctx context.Context, showID uint64, holdToken string) error
	Confirm(ctx context.Context, showID uint64, holdToken string) error
}

type AdmissionLimiter interface {
	Key(w ratelimit.Window) string
	Lock(ctx context.Context, key, holder string, ttl time.Duration) error
	Unlock(ctx context.Context, key string) error
	Holder(ctx context.Context, key string) (string, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, ids []string) (token.AccessToken, error)
}

type PassportChecker interface {
	Verify(raw, sellerID string) (*token.Passport, error)
}

type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, ev queue.OrderConfirmedEvent) error
}

// Deps are the collaborators of a Service.  Logger and Meter may be nil.
type Deps struct {
	Transactions TransactionStore
	Actions      ActionStore
	Sequences    SequenceStore
	Tasks        TaskStore
	Inventory    Inventory
	Limiter      AdmissionLimiter
	Tokens       TokenIssuer
	Passports    PassportChecker
	Payments     payment.Gateway
	Events       EventPublisher
	Policy       config.Policy
	Clock        clock.Clock
	Location     *time.Location // calendar used for order numbers
	PhoneRegion  string
	Logger       *log.Logger
	Meter        metric.Meter
}

type Service struct {
	Deps
	confirmed metric.Int64Counter
	failed    metric.Int64Counter
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = log.New(log.Writer(), "saga: ", log.LstdFlags)
	}
	if d.Meter == nil {
		d.Meter = otel.Meter("saga")
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.PhoneRegion == "" {
		d.PhoneRegion = "US"
	}
	return &Service{
		Deps:      d,
		confirmed: telemetry.Counter(d.Meter, "saga.confirm.succeeded", "Transactions confirmed into orders"),
		failed:    telemetry.Counter(d.Meter, "saga.confirm.failed", "Rejected or failed confirmations"),
	}
}

// StartParams opens a transaction.  Passport is the raw admission passport
// and may be empty unless the policy requires one.
type StartParams struct {
	Agent    model.Agent
	Seller   model.Seller
	Passport string
}

// Start validates the passport and creates an InProgress transaction.  A
// passport already used by another transaction yields AlreadyInUse.
func (s *Service) Start(ctx context.Context, p StartParams) (*model.Transaction, error) {
	if p.Agent.ID == "" {
		return nil, errs.Argument("agent id is required")
	}
	if p.Seller.ID == "" {
		return nil, errs.Argument("seller id is required")
	}
	var passportHash string
	switch {
	case p.Passport != "":
		pp, err := s.Passports.Verify(p.Passport, p.Seller.ID)
		if err != nil {
			return nil, err
		}
		passportHash = pp.Hash
	case s.Policy.PassportRequired:
		return nil, errs.Argument("passport is required")
	}

	now := s.Clock.Now()
	t := &model.Transaction{
		ID:           uuid.NewString(),
		TypeOf:       model.TransactionPlaceOrder,
		Status:       model.TransactionInProgress,
		Seller:       p.Seller,
		Agent:        p.Agent,
		PassportHash: passportHash,
		Expires:      now.Add(time.Duration(s.Policy.TransactionTTLMinutes) * time.Minute),
		StartDate:    now,
	}
	if err := s.Transactions.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransaction returns a transaction to its owner.
func (s *Service) GetTransaction(ctx context.Context, id, agentID string) (*model.Transaction, error) {
	t, err := s.Transactions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsOwnedBy(agentID) {
		return nil, errs.Forbidden("transaction %s belongs to another agent", id)
	}
	return t, nil
}

// SetCustomerContact stores the buyer's contact with the telephone
// normalized to E.164.
func (s *Service) SetCustomerContact(ctx context.Context, id, agentID string, c model.CustomerContact) (*model.CustomerContact, error) {
	t, err := s.inProgress(ctx, id, agentID)
	if err != nil {
		return nil, err
	}
	c.GivenName = strings.TrimSpace(c.GivenName)
	c.FamilyName = strings.TrimSpace(c.FamilyName)
	c.Email = strings.TrimSpace(c.Email)
	tel, err := normalizePhone(c.Telephone, s.PhoneRegion)
	if err != nil {
		return nil, err
	}
	c.Telephone = tel
	if err := s.Transactions.SetCustomerContact(ctx, t.ID, c); err != nil {
		return nil, err
	}
	return &c, nil
}

func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errs.Argument("telephone is required")
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", errs.Argument("invalid telephone %q: %v", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errs.Argument("invalid telephone %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// slotHolder names the seat reservation action that owns an admission slot.
func slotHolder(txID, actionID string) string { return txID + "/" + actionID }

// inProgress loads a transaction the agent owns and may still change.
func (s *Service) inProgress(ctx context.Context, id, agentID string) (*model.Transaction, error) {
	t, err := s.GetTransaction(ctx, id, agentID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransactionInProgress {
		return nil, errs.NotFound("transaction %s in progress", id)
	}
	if !s.Clock.Now().Before(t.Expires) {
		return nil, errs.Argument("transaction %s expired at %s", id, t.Expires.Format(time.RFC3339))
	}
	return t, nil
}

// AdmissionHolder returns who holds the admission slot of category for the
// window containing startsAt, as "<transaction id>/<action id>", or "" when
// it is free.
func (s *Service) AdmissionHolder(ctx context.Context, category string, startsAt time.Time) (string, error) {
	unit, ok := s.Policy.AdmissionUnit(category)
	if !ok {
		return "", errs.Argument("category %q has no admission limit", category)
	}
	return s.Limiter.Holder(ctx, s.Limiter.Key(ratelimit.WindowAt(category, startsAt, unit)))
}

// enqueue saves a task due now with the policy's tries for its name.
func (s *Service) enqueue(ctx context.Context, name model.TaskName, data any) error {
	raw, err := marshal(data)
	if err != nil {
		return err
	}
	_, err = s.Tasks.Save(ctx, model.TaskAttributes{
		Name:                   name,
		RunsAt:                 s.Clock.Now(),
		RemainingNumberOfTries: s.Policy.Tries(name),
		Data:                   raw,
	})
	return err
}
