package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

type hold struct {
	holder    string
	token     string
	ticketID  string
	confirmed bool
	expires   int64
}

// Inventory is an in-process seat inventory with the hold semantics of
// repository.InventoryRepo.
type Inventory struct {
	mu    sync.Mutex
	clock clock.Clock
	shows map[uint64]model.Show
	seats map[uint64]map[uint64]*model.ShowSeat // show -> seat
	holds map[uint64]map[uint64]*hold           // show -> seat
}

func NewInventory(clk clock.Clock) *Inventory {
	return &Inventory{
		clock: clk,
		shows: map[uint64]model.Show{},
		seats: map[uint64]map[uint64]*model.ShowSeat{},
		holds: map[uint64]map[uint64]*hold{},
	}
}

// AddShow registers a show with its seats.  Seat status defaults to FREE.
func (inv *Inventory) AddShow(show model.Show, seats ...model.ShowSeat) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if show.Status == "" {
		show.Status = model.ShowScheduled
	}
	inv.shows[show.ID] = show
	m := map[uint64]*model.ShowSeat{}
	for _, ss := range seats {
		ss := ss
		ss.ShowID = show.ID
		if ss.Status == "" {
			ss.Status = model.SeatFree
		}
		m[ss.SeatID] = &ss
	}
	inv.seats[show.ID] = m
	inv.holds[show.ID] = map[uint64]*hold{}
}

// SeatStatus returns the status of one seat, or "" when it does not exist.
func (inv *Inventory) SeatStatus(showID, seatID uint64) string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if ss, ok := inv.seats[showID][seatID]; ok {
		return ss.Status
	}
	return ""
}

func (inv *Inventory) Reserve(_ context.Context, req model.ReserveRequest) (*model.Reservation, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	unique := make([]uint64, 0, len(req.SeatIDs))
	seen := map[uint64]struct{}{}
	for _, id := range req.SeatIDs {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, errs.Argument("no valid seat IDs provided")
	}
	now := inv.clock.Now()
	show, ok := inv.shows[req.ShowID]
	if !ok {
		return nil, errs.NotFound("show %d", req.ShowID)
	}
	if show.Status != model.ShowScheduled {
		return nil, errs.Argument("show %d is %s", show.ID, show.Status)
	}
	if !show.StartsAt.After(now) {
		return nil, errs.Argument("show %d already started", show.ID)
	}

	holds := inv.holds[show.ID]
	seats := inv.seats[show.ID]
	for seatID, h := range holds {
		if !h.confirmed && h.expires <= now.UnixNano() {
			delete(holds, seatID)
			if ss, ok := seats[seatID]; ok {
				ss.Status = model.SeatFree
			}
		}
	}

	var missing []uint64
	for _, id := range unique {
		if ss, ok := seats[id]; !ok || ss.Status != model.SeatFree {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, errs.Argument("seats unavailable: %v", missing)
	}

	token := req.HoldToken
	if token == "" {
		token = uuid.NewString()
	}
	out := &model.Reservation{ShowID: show.ID, StartsAt: show.StartsAt, HoldToken: token}
	for _, id := range unique {
		ss := seats[id]
		ss.Status = model.SeatHeld
		h := &hold{holder: req.Holder, token: out.HoldToken, ticketID: uuid.NewString(), expires: req.ExpiresAt.UnixNano()}
		holds[id] = h
		out.Tickets = append(out.Tickets, model.Ticket{
			TicketID:   h.ticketID,
			SeatID:     id,
			SeatNumber: ss.SeatLabel,
			Section:    ss.Section,
			Category:   ss.Category,
			TicketType: ss.TicketType,
			UnitPrice:  ss.Price,
		})
	}
	return out, nil
}

func (inv *Inventory) Release(_ context.Context, showID uint64, holdToken string) error {
	if holdToken == "" {
		return errs.Argument("hold token is required")
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for seatID, h := range inv.holds[showID] {
		if h.token == holdToken && !h.confirmed {
			delete(inv.holds[showID], seatID)
			if ss, ok := inv.seats[showID][seatID]; ok {
				ss.Status = model.SeatFree
			}
		}
	}
	return nil
}

func (inv *Inventory) Confirm(_ context.Context, showID uint64, holdToken string) error {
	if holdToken == "" {
		return errs.Argument("hold token is required")
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n := 0
	for seatID, h := range inv.holds[showID] {
		if h.token != holdToken {
			continue
		}
		h.confirmed = true
		if ss, ok := inv.seats[showID][seatID]; ok {
			ss.Status = model.SeatReserved
		}
		n++
	}
	if n == 0 {
		return errs.NotFound("seat holds %s on show %d", holdToken, showID)
	}
	return nil
}
