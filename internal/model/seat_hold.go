package model

import "time"

// SeatHold keeps a seat for one transaction until the transaction is
// confirmed or the hold expires.  Holder is the transaction id.
type SeatHold struct {
    ID        uint64    // seat_holds.id
    Holder    string    // seat_holds.holder
    ShowID    uint64    // seat_holds.show_id
    SeatID    uint64    // seat_holds.seat_id
    HoldToken string    // seat_holds.hold_token
    TicketID  string    // seat_holds.ticket_id
    Confirmed bool      // seat_holds.confirmed
    ExpiresAt time.Time // seat_holds.expires_at
    CreatedAt time.Time // seat_holds.created_at
}

// ReserveRequest asks the inventory to hold seats for a transaction.
// HoldToken names this reservation; release and confirm act on it alone.
// An empty token is generated.
type ReserveRequest struct {
    Holder    string
    HoldToken string
    ShowID    uint64
    SeatIDs   []uint64
    ExpiresAt time.Time
}

// Reservation is what the inventory actually held.
type Reservation struct {
    ShowID    uint64
    StartsAt  time.Time
    HoldToken string
    Tickets   []Ticket
}
