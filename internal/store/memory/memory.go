// Package memory provides in-process implementations of the saga stores
// with the same conditional-update semantics as the MySQL repositories.
// Every operation takes the store mutex, which plays the role of the
// database's row locks.  It backs the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// Store holds transactions, actions, sequences and tasks.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	transactions map[string]*model.Transaction
	passports    map[string]string // passport hash -> transaction id
	orderNumbers map[string]string // order number -> transaction id
	actions      map[string]*model.AuthorizeAction
	sequences    map[string]int64
	tasks        map[string]*model.Task
}

func New(clk clock.Clock) *Store {
	return &Store{
		clock:        clk,
		transactions: map[string]*model.Transaction{},
		passports:    map[string]string{},
		orderNumbers: map[string]string{},
		actions:      map[string]*model.AuthorizeAction{},
		sequences:    map[string]int64{},
		tasks:        map[string]*model.Task{},
	}
}

// Transactions, Actions, Sequences and Tasks expose the store through the
// method sets the services expect.
func (s *Store) Transactions() *Transactions { return &Transactions{s} }
func (s *Store) Actions() *Actions           { return &Actions{s} }
func (s *Store) Sequences() *Sequences       { return &Sequences{s} }
func (s *Store) Tasks() *Tasks               { return &Tasks{s} }

type Transactions struct{ s *Store }

func (r *Transactions) Create(_ context.Context, t *model.Transaction) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.PassportHash != "" {
		if _, ok := s.passports[t.PassportHash]; ok {
			return errs.AlreadyInUse("passport already used by another transaction")
		}
		s.passports[t.PassportHash] = t.ID
	}
	cp := cloneTransaction(t)
	s.transactions[t.ID] = cp
	return nil
}

func (r *Transactions) FindByID(_ context.Context, id string) (*model.Transaction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, errs.NotFound("transaction %s", id)
	}
	return cloneTransaction(t), nil
}

func (r *Transactions) SetCustomerContact(_ context.Context, id string, contact model.CustomerContact) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok || t.Status != model.TransactionInProgress {
		return errs.NotFound("transaction %s in progress", id)
	}
	t.CustomerContact = &contact
	return nil
}

func (r *Transactions) Confirm(_ context.Context, p model.ConfirmParams) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[p.TransactionID]
	if !ok {
		return errs.NotFound("transaction %s", p.TransactionID)
	}
	if t.Status == model.TransactionConfirmed {
		return errs.AlreadyInUse("transaction %s already confirmed", p.TransactionID)
	}
	if t.Status != model.TransactionInProgress {
		return errs.NotFound("transaction %s in progress", p.TransactionID)
	}
	no := p.Result.Order.OrderNumber
	if _, dup := s.orderNumbers[no]; dup {
		return errs.AlreadyInUse("order number %s", no)
	}
	s.orderNumbers[no] = t.ID
	end := p.EndDate
	result := p.Result
	t.Status = model.TransactionConfirmed
	t.EndDate = &end
	t.PaymentMethod = p.PaymentMethod
	t.AuthorizeActions = append([]model.ActionRef(nil), p.AuthorizeActions...)
	t.Result = &result
	return nil
}

func (r *Transactions) ExpireDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.Transaction
	for _, t := range s.transactions {
		if t.Status == model.TransactionInProgress && t.Expires.Before(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Expires.Before(due[j].Expires) })
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, t := range due {
		end := now
		t.Status = model.TransactionExpired
		t.EndDate = &end
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func cloneTransaction(t *model.Transaction) *model.Transaction {
	cp := *t
	if t.CustomerContact != nil {
		c := *t.CustomerContact
		cp.CustomerContact = &c
	}
	cp.AuthorizeActions = append([]model.ActionRef(nil), t.AuthorizeActions...)
	return &cp
}

type Actions struct{ s *Store }

func (r *Actions) Start(_ context.Context, a *model.AuthorizeAction) (*model.AuthorizeAction, error) {
	if !model.KnownActionType(a.TypeOf) {
		return nil, errs.Argument("unknown action type %q", a.TypeOf)
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *a
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if _, dup := s.actions[out.ID]; dup {
		return nil, errs.AlreadyInUse("action %s", out.ID)
	}
	out.Status = model.ActionActive
	out.StartDate = s.clock.Now()
	out.EndDate = nil
	out.Result = nil
	stored := out
	s.actions[out.ID] = &stored
	return &out, nil
}

func (r *Actions) Complete(_ context.Context, typeOf model.ActionType, id string, result model.ActionResult) (*model.AuthorizeAction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.TypeOf != typeOf {
		return nil, errs.NotFound("%s action %s", typeOf, id)
	}
	switch a.Status {
	case model.ActionActive:
		now := s.clock.Now()
		a.Status = model.ActionCompleted
		a.Result = result
		a.EndDate = &now
	case model.ActionCompleted:
	default:
		return nil, errs.NotFound("active %s action %s", typeOf, id)
	}
	cp := *a
	return &cp, nil
}

func (r *Actions) Cancel(_ context.Context, typeOf model.ActionType, id, purposeID string) (*model.AuthorizeAction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.TypeOf != typeOf || (purposeID != "" && a.Purpose.ID != purposeID) {
		return nil, errs.NotFound("%s action %s", typeOf, id)
	}
	a.Status = model.ActionCanceled
	if a.EndDate == nil {
		now := s.clock.Now()
		a.EndDate = &now
	}
	cp := *a
	return &cp, nil
}

func (r *Actions) GiveUp(_ context.Context, typeOf model.ActionType, id string, cause error) (*model.AuthorizeAction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.TypeOf != typeOf {
		return nil, errs.NotFound("%s action %s", typeOf, id)
	}
	if a.Status == model.ActionActive {
		now := s.clock.Now()
		a.Status = model.ActionFailed
		a.EndDate = &now
		if cause != nil {
			a.Error = cause.Error()
		}
	}
	cp := *a
	return &cp, nil
}

func (r *Actions) FindByID(_ context.Context, typeOf model.ActionType, id string) (*model.AuthorizeAction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.TypeOf != typeOf {
		return nil, errs.NotFound("%s action %s", typeOf, id)
	}
	cp := *a
	return &cp, nil
}

func (r *Actions) SearchByPurpose(_ context.Context, q model.ActionQuery) ([]*model.AuthorizeAction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AuthorizeAction
	for _, a := range s.actions {
		if a.Purpose != q.Purpose || (q.TypeOf != "" && a.TypeOf != q.TypeOf) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

type Sequences struct{ s *Store }

func (r *Sequences) Increment(_ context.Context, target, key string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := target + "\x00" + key
	s.sequences[k]++
	return s.sequences[k], nil
}

type Tasks struct{ s *Store }

func (r *Tasks) Save(_ context.Context, attrs model.TaskAttributes) (*model.Task, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &model.Task{
		ID:                     uuid.NewString(),
		Name:                   attrs.Name,
		Status:                 model.TaskReady,
		RunsAt:                 attrs.RunsAt.UTC(),
		RemainingNumberOfTries: attrs.RemainingNumberOfTries,
		Data:                   attrs.Data,
	}
	if len(t.Data) == 0 {
		t.Data = []byte("{}")
	}
	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (r *Tasks) ClaimOne(_ context.Context, name model.TaskName, now time.Time) (*model.Task, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var pick *model.Task
	for _, t := range s.tasks {
		if t.Name != name || t.Status != model.TaskReady || t.RunsAt.After(now) {
			continue
		}
		if pick == nil || t.RunsAt.Before(pick.RunsAt) {
			pick = t
		}
	}
	if pick == nil {
		return nil, nil
	}
	at := now
	pick.Status = model.TaskRunning
	pick.LastTriedAt = &at
	pick.RemainingNumberOfTries--
	pick.NumberOfTried++
	return cloneTask(pick), nil
}

func (r *Tasks) PushExecutionResult(_ context.Context, id string, result model.TaskExecutionResult) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errs.NotFound("task %s", id)
	}
	t.ExecutionResults = append(t.ExecutionResults, result)
	if result.Error == "" && t.Status == model.TaskRunning {
		t.Status = model.TaskExecuted
	}
	return nil
}

func (r *Tasks) Retry(_ context.Context, lastTriedBefore time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if t.Status == model.TaskRunning && t.RemainingNumberOfTries > 0 &&
			t.LastTriedAt != nil && t.LastTriedAt.Before(lastTriedBefore) {
			t.Status = model.TaskReady
			n++
		}
	}
	return n, nil
}

func (r *Tasks) AbortOne(_ context.Context, lastTriedBefore time.Time) (*model.Task, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var pick *model.Task
	for _, t := range s.tasks {
		if t.Status != model.TaskRunning || t.RemainingNumberOfTries > 0 ||
			t.LastTriedAt == nil || !t.LastTriedAt.Before(lastTriedBefore) {
			continue
		}
		if pick == nil || t.LastTriedAt.Before(*pick.LastTriedAt) {
			pick = t
		}
	}
	if pick == nil {
		return nil, nil
	}
	pick.Status = model.TaskAborted
	return cloneTask(pick), nil
}

func (r *Tasks) CleanUp(_ context.Context, runsBefore time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tasks {
		if (t.Status == model.TaskExecuted || t.Status == model.TaskAborted) && t.RunsAt.Before(runsBefore) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (r *Tasks) FindByID(_ context.Context, id string) (*model.Task, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.NotFound("task %s", id)
	}
	return cloneTask(t), nil
}

// ByName lists the tasks of one name ordered by run time.  Tests use it to
// inspect what a service enqueued.
func (r *Tasks) ByName(name model.TaskName) []*model.Task {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.Name == name {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunsAt.Equal(out[j].RunsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunsAt.Before(out[j].RunsAt)
	})
	return out
}

// Backdate moves a task's last try back by d.  Tests use it to age tasks
// past the retry and abort thresholds.
func (r *Tasks) Backdate(id string, d time.Duration) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.LastTriedAt != nil {
		at := t.LastTriedAt.Add(-d)
		t.LastTriedAt = &at
	}
}

func cloneTask(t *model.Task) *model.Task {
	cp := *t
	cp.Data = append([]byte(nil), t.Data...)
	cp.ExecutionResults = append([]model.TaskExecutionResult(nil), t.ExecutionResults...)
	if t.LastTriedAt != nil {
		at := *t.LastTriedAt
		cp.LastTriedAt = &at
	}
	return &cp
}

